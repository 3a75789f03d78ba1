// Package files resolves request paths inside the served data directory.
//
// Resolution is two-staged. The request path is first normalized without
// touching the filesystem, and any parent reference makes it Forbidden. The
// normalized path is then joined onto the root and classified as a Listing,
// a File or NotFound; a location whose symlinks lead outside the root is
// Forbidden as well.
//
// Hidden names (leading ".") are left out of listings but remain reachable
// by direct path.
package files
