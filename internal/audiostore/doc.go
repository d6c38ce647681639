// Package audiostore keeps durable audio recordings within storage budget
// without the application deciding when to act: it purges temporary files,
// compresses old recordings when storage runs low, and deletes the oldest
// recordings as a last resort when storage is critically low.
package audiostore
