// Package config loads the gitsync configuration.
//
// Configuration is read from a single directory, ~/.config/gitsync by
// default or the directory given with --config-path:
//
//	config.yaml          server, controller, executor, source, logging,
//	                     clusters and inline applications
//	applications/*.yaml  further applications, several per file allowed
//
// A missing config.yaml yields GetDefaultConfig. Durations use Go syntax
// ("30s", "3m"). Unknown fields are rejected. Every problem found while
// loading is reported in one ConfigurationErrorCollection so a broken
// configuration can be fixed in a single pass.
//
// Example config.yaml:
//
//	server:
//	  port: 8095
//	controller:
//	  refreshInterval: 1m
//	  maxHistory: 20
//	clusters:
//	  - name: production
//	    type: kubernetes
//	    context: prod-admin
//	  - name: sandbox
//	    type: memory
//	applications:
//	  - name: guestbook
//	    source:
//	      repoURL: https://github.com/example/deploy.git
//	      targetRevision: main
//	      path: guestbook
//	    destination:
//	      cluster: production
//	      namespace: guestbook
//	    syncPolicy:
//	      automated: true
//	      selfHeal: true
package config
