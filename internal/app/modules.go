package app

import (
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/modules/control"
	"github.com/vk/patchflow/modules/data"
	"github.com/vk/patchflow/modules/dsp"
	"github.com/vk/patchflow/modules/subpatch"
	"github.com/vk/patchflow/modules/ui"
)

// coreModules is the definitive list of all operator modules that are
// compiled into the patchflow binary.
var coreModules = []operator.Module{
	&subpatch.Module{},
	&control.Module{},
	&dsp.Module{},
	&data.Module{},
	&ui.Module{},
}
