// Package config provides configuration parsing for hotrun projects.
//
// The configuration is stored in hotrun.json at the project root and is
// optional: a project without one runs on the defaults. Environment
// variables PORT and HOST override the file, and CLI flags override both.
//
// # Configuration File Structure
//
//	{
//	  "entry": "src/backend/app.go",
//	  "server": {
//	    "port": 9000,
//	    "host": "127.0.0.1"
//	  },
//	  "frontend": {
//	    "index": "src/frontend/index.html",
//	    "remote": {
//	      "bucket": "shared-assets",
//	      "region": "eu-west-1"
//	    }
//	  },
//	  "dev": {
//	    "watch": ["src"],
//	    "fullReload": ["src/backend/*.sql"],
//	    "debounce": "100ms",
//	    "closeTimeout": "5s"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(os.Getenv); err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Address:", cfg.Address())
package config
