// Package app is the server contract between hotrun and an application.
//
// An application's entry module exports a Factory under the name
// "createApp". hotrun calls it for every server it starts, attaches its
// own request hooks and not-found handler, and asks the server to listen:
//
//	module.Register("src/backend/app.go", module.Definition{
//		Eval: func(ctx context.Context, m *module.Module) (module.Exports, error) {
//			return module.Exports{app.CreateAppExport: app.Factory(createApp)}, nil
//		},
//	})
//
//	func createApp(opts app.Options) (app.Server, error) {
//		a := app.New(opts)
//		a.Router().Get("/api/hello", hello)
//		return a, nil
//	}
//
// App is a ready-made Server built on a chi router.
package app
