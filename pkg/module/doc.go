// Package module is hotrun's built-in module transform and resolution service.
//
// A module is a file under the project root identified by its absolute,
// cleaned path. Two kinds of module can be executed:
//
//   - Go modules: code compiled into the dev binary and registered against a
//     source path with Register. Each definition lists the specifiers it
//     imports and an Eval function that receives the imported exports.
//   - Data modules: .json, .toml, .yaml/.yml, .tmpl/.html, .txt/.md files.
//     They are parsed on every evaluation and export the parsed value as
//     "default".
//
// Go code cannot be swapped at runtime, so re-executing a Go module runs the
// same compiled Eval again with fresh imports. That is what makes editing a
// data module (configuration, templates, fixtures) take effect on the next
// partial reload.
//
// # Usage
//
//	func init() {
//	    module.Register("src/backend/app.go", module.Definition{
//	        Imports: []string{"./config.toml", "./index.tmpl"},
//	        Eval: func(ctx context.Context, m *module.Module) (module.Exports, error) {
//	            cfg, _ := module.Default[map[string]any](m.Import("./config.toml"))
//	            return module.Exports{"createApp": newFactory(cfg)}, nil
//	        },
//	    })
//	}
package module
