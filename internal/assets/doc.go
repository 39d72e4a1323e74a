// Package assets transforms frontend sources for the browser.
//
// A Transformer maps a request URL to transformed code plus a validation
// token. FileTransformer compiles TypeScript, JSX and CSS from the project
// with esbuild; RemoteTransformer serves prebuilt assets from an S3 bucket.
// Chain tries several transformers in order and stops at the first that
// does not report ErrNotFound.
package assets
