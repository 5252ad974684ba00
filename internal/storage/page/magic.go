package page

// Magic numbers prefix every serialized object so deserialization can
// detect corruption or a mismatched layout before trusting the bytes
// that follow. An unexpected magic yields a zero-valued result and zero
// bytes consumed, which callers treat as corruption.
const (
	MagicColumn      uint32 = 0xC01B0001
	MagicSchema      uint32 = 0x5C4E0002
	MagicRow         uint32 = 0x20000003
	MagicTableMeta   uint32 = 0x74B10004
	MagicIndexMeta   uint32 = 0x1DE50005
	MagicCatalogMeta uint32 = 0xCA7A0006
)
