package studies

// ScanOptions control how a root directory is classified into studies.
type ScanOptions struct {
	// Extensions are matched case-insensitively against file suffixes.
	// Empty falls back to DefaultExtensions.
	Extensions []string
	// FollowSymlinks traverses symlinked subdirectories. Off by default
	// to avoid cycles.
	FollowSymlinks bool
	// NestedSeries also counts image files one directory level below a
	// candidate study, for exports that sort slices into series subfolders.
	NestedSeries bool
}

// Scanner port (interface for study discovery)
type Scanner interface {
	Scan(root string, opts ScanOptions) (*Inventory, error)
}
