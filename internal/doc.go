// Package internal contains the implementation packages of assetforge.
//
// # Package Organization
//
//   - taskgraph: named tasks, dependency resolution, parallel and sequenced runs
//   - pipeline: the concrete asset tasks, aggregates and watch rules
//   - assets: style, script, copy and clean actions
//   - watcher: file system notifications and glob-to-task dispatch
//   - livereload: development server, proxy injection and browser messages
//   - config: configuration loading and validation
//   - errors: structural and transformation errors, collection for the overlay
//   - glob: pattern normalization, matching and file listing
//   - logging: structured logging on log/slog
//   - version: build metadata
//
// # Data Flow
//
// The CLI loads a Config and builds a Pipeline, which registers every task
// on a taskgraph.Graph. A run resolves the requested names, then executes
// actions from package assets in dependency order. The watch task feeds
// file events through a watcher.Dispatcher back into the graph, and the
// serve task starts the livereload server that the asset actions notify
// after writing output.
//
// # Testing Strategy
//
//   - Unit tests next to each package, using testify
//   - Property tests with gopter behind the property build tag
//   - Real file system and loopback HTTP in tests instead of mocks where
//     practical
package internal
