//go:build amd64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). Used to convert a physical
	// address to a frame number (shift right) and back (shift left).
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// LargePageShift is equal to log2(LargePageSize).
	LargePageShift = 21

	// LargePageSize is the size of a 2 MiB huge page.
	LargePageSize = Size(1 << LargePageShift)
)
