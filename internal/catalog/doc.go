// Package catalog loads module catalogs written in CUE and publishes them to
// a host: each entry uploads code, deploys shared instances where the module
// kind calls for one, and registers the result in the registry.
//
// A catalog nests entries under their module id and version:
//
//	module: "acme:oracle": "1.2.0": kind: "app"
//	module: "acme:lending": "1.0.0": {
//		kind: "app"
//		dependencies: [{id: "acme:oracle", requires: [">=1.0.0", "<2.0.0"]}]
//	}
package catalog
