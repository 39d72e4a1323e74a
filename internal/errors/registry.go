package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Evaluation Errors (H100-H199)
	// ============================================

	"H100": {
		Category: CategoryEvaluation,
		Message:  "Module not found",
		Detail:   "The module could not be resolved to a file or a registered definition.",
	},
	"H101": {
		Category: CategoryEvaluation,
		Message:  "Module evaluation failed",
		Detail:   "The module or one of its imports returned an error while executing.",
	},
	"H102": {
		Category: CategoryEvaluation,
		Message:  "Import cycle",
		Detail:   "A module imports itself through a chain of other modules.",
	},
	"H103": {
		Category: CategoryEvaluation,
		Message:  "Entry module has no createApp export",
		Detail:   "The entry module must export createApp as a func(app.Options) (app.Server, error).",
	},
	"H104": {
		Category: CategoryEvaluation,
		Message:  "No evaluator for module",
		Detail:   "The file type has no built-in evaluator and no Go definition is registered for it.",
	},
	"H105": {
		Category: CategoryEvaluation,
		Message:  "createApp failed",
		Detail:   "The application factory returned an error.",
	},
	"H106": {
		Category: CategoryEvaluation,
		Message:  "Invalid dispose export",
		Detail:   "The dispose export of an entry module must be a func(), func() error or func(context.Context) error.",
	},

	// ============================================
	// Lifecycle Errors (H200-H299)
	// ============================================

	"H200": {
		Category: CategoryLifecycle,
		Message:  "Server failed to listen",
		Detail:   "The new server instance could not bind its address.",
	},
	"H201": {
		Category: CategoryLifecycle,
		Message:  "Server failed to close",
		Detail:   "The outgoing server did not finish closing in time. No server is listening now.",
	},
	"H202": {
		Category: CategoryLifecycle,
		Message:  "Server already active",
		Detail:   "A server handle is already accepting connections.",
	},
	"H203": {
		Category: CategoryLifecycle,
		Message:  "Lifecycle manager shut down",
		Detail:   "The lifecycle manager no longer accepts operations.",
	},

	// ============================================
	// Channel Errors (H300-H399)
	// ============================================

	"H300": {
		Category: CategoryChannel,
		Message:  "Malformed hot-update payload",
		Detail:   "A change notification could not be decoded. It was ignored.",
	},
	"H301": {
		Category: CategoryChannel,
		Message:  "Unexpected hot-update payload",
		Detail:   "A change notification had an unknown type or was missing required fields. It was ignored.",
	},
	"H302": {
		Category: CategoryChannel,
		Message:  "Watcher failed",
		Detail:   "The file watcher could not be started.",
	},

	// ============================================
	// Config Errors (H400-H499)
	// ============================================

	"H400": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "hotrun.json could not be read or parsed.",
	},
	"H401": {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "Port must be between 0 and 65535.",
	},
	"H402": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations use Go syntax, such as 100ms or 5s.",
	},

	// ============================================
	// CLI and Asset Errors (H500-H599)
	// ============================================

	"H500": {
		Category: CategoryCLI,
		Message:  "Dev orchestrator already running",
		Detail:   "Another hotrun dev process holds the lock for this project.",
	},
	"H501": {
		Category: CategoryCLI,
		Message:  "Startup failed",
		Detail:   "The application could not be started. No server was ever active.",
	},
	"H502": {
		Category: CategoryCLI,
		Message:  "Project directory already exists",
		Detail:   "hotrun init only writes into a new or empty directory.",
	},
	"H503": {
		Category: CategoryCLI,
		Message:  "Unknown project template",
	},
	"H510": {
		Category: CategoryAsset,
		Message:  "Asset transform failed",
		Detail:   "The asset pipeline could not transform the requested file.",
	},
	"H511": {
		Category: CategoryAsset,
		Message:  "Remote asset fetch failed",
		Detail:   "The remote asset store returned an error.",
	},
}
