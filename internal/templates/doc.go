// Package templates scaffolds new hotrun projects.
//
// # Available Templates
//
//   - basic: backend entry module with data modules and a frontend
//   - api: backend entry module only
//
// # Usage
//
//	tmpl, err := templates.Get("basic")
//	if err != nil {
//	    return err
//	}
//	err = tmpl.Create(projectDir, templates.Config{
//	    ProjectName: "shop",
//	    ModulePath:  "example.com/shop",
//	})
//
// # Template Variables
//
// Files are text/templates with [[ ]] delimiters so that Go templates in
// the generated project pass through untouched:
//
//	[[.ProjectName]]   - Name of the project
//	[[.ModulePath]]    - Go module path
//	[[.Description]]   - Project description
//	[[.Port]]          - Port written to hotrun.json
package templates
