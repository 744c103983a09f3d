// Package loader reads patch files. A patch file is HCL:
//
//	patch "drone" {
//	  object "osc" {
//	    text = "cycle~ 110"
//	  }
//	  object "gain" {
//	    text = "*~"
//	  }
//	  object "level" {
//	    text = "param level 0.2"
//	  }
//	  object "out" {
//	    text = "dac~"
//	  }
//	  connect {
//	    from = "osc"
//	    to   = "gain"
//	  }
//	  connect {
//	    from = "level"
//	    to   = "gain:1"
//	  }
//	  connect {
//	    from = "gain"
//	    to   = "out"
//	  }
//	}
//
// Object blocks may set `attributes = { ... }` and nest a `patch { ... }`
// block holding the body of a subpatch. Message blocks take a `value`.
// Endpoints are `name` or `name:port`.
package loader
