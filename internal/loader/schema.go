package loader

import (
	"github.com/hashicorp/hcl/v2"
)

type fileRoot struct {
	Patches []*patchBlock `hcl:"patch,block"`
	Remain  hcl.Body      `hcl:",remain"`
}

type patchBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// graphBody is the content of a patch or a subpatch.
type graphBody struct {
	Objects     []*objectBlock  `hcl:"object,block"`
	Messages    []*messageBlock `hcl:"message,block"`
	Connections []*connectBlock `hcl:"connect,block"`
}

type objectBlock struct {
	Name       string         `hcl:"name,label"`
	Text       hcl.Expression `hcl:"text"`
	Attributes hcl.Expression `hcl:"attributes,optional"`
	Remain     hcl.Body       `hcl:",remain"`
}

// subpatchBlock wraps the nested body of an object.
type subpatchBlock struct {
	Patch *struct {
		Body hcl.Body `hcl:",remain"`
	} `hcl:"patch,block"`
}

type messageBlock struct {
	Name  string         `hcl:"name,label"`
	Value hcl.Expression `hcl:"value"`
}

type connectBlock struct {
	From hcl.Expression `hcl:"from"`
	To   hcl.Expression `hcl:"to"`
}
