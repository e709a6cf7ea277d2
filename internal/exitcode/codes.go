package exitcode

// Exit codes for the filecoord CLI.
// The trigger dispatcher uses these to decide whether to re-drive an event.
const (
	// Success - every key completed, or was skipped because another run owns it
	Success = 0

	// ConfigError - missing or invalid configuration
	// Don't retry: fix the config first
	ConfigError = 1

	// StorageError - relocation or report write failed after the engine's retry
	// Re-drive with backoff; the lock has been released
	StorageError = 4

	// DataError - catalog has no row for a key that should exist
	// Don't retry: investigate the catalog
	DataError = 5

	// NotOwned - the key matched no naming convention
	// Don't retry: the object is not one this system handles
	NotOwned = 6
)
