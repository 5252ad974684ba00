package index

import "errors"

// ErrKeyNotFound is returned by Remove (and surfaced through GetValue's
// bool result) when a key is absent from the tree.
var ErrKeyNotFound = errors.New("index: key not found")
