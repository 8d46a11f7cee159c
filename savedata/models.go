package savedata

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// nowMillis returns the current time in milliseconds since the epoch.
func nowMillis() int64 {
	return nowFunc().UnixMilli()
}

const (
	// SaveRoot is the directory of the game's save files inside the
	// versioned store. The game runtime reads the same paths.
	SaveRoot = "/_savedata"

	// LegacyPrefix prefixes every save entry key in the legacy store.
	LegacyPrefix = "deltarune_save_"

	// DatabaseName is the name of the versioned database.
	DatabaseName = "emscripten_filesystem"

	// CollectionName is the record collection holding the filesystem.
	CollectionName = "FILES"

	// FileMode marks a regular file, rw-r--r-- (0100644).
	FileMode uint32 = 33188
)

// Record is one save file as read from either store.
type Record struct {
	Name      string  `json:"name"`
	Content   Content `json:"content"`
	Timestamp int64   `json:"timestamp"` // milliseconds
}

// Envelope is the representation of a save file inside the versioned store.
type Envelope struct {
	Timestamp int64  `json:"timestamp"`
	Mode      uint32 `json:"mode"`
	Contents  []byte `json:"contents"`
}
