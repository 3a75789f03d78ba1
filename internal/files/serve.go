package files

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// ServeFile streams a KindFile resolution. Range, If-Range, conditional and
// HEAD requests are handled by http.ServeContent; the content type is
// derived from the file extension, then sniffed.
func ServeFile(w http.ResponseWriter, r *http.Request, res *Resolution) error {
	if res == nil || res.Kind != KindFile {
		return fmt.Errorf("not a file resolution")
	}

	f, err := os.Open(res.Location)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", res.RequestPath, err)
	}
	defer f.Close()

	http.ServeContent(w, r, filepath.Base(res.Location), res.Info.ModTime(), f)
	return nil
}
