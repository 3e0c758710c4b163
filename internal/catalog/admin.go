package catalog

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/splatstream/internal/httputil"
)

// Stats summarises catalog contents.
type Stats struct {
	Sequences   int `json:"sequences"`
	Frames      int `json:"frames"`
	LODLevels   int `json:"lod_levels"`
	CacheSample int `json:"cache_samples"`
}

// Stats counts the rows of each table.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"sequences", &st.Sequences},
		{"frames", &st.Frames},
		{"lod_levels", &st.LODLevels},
		{"cache_samples", &st.CacheSample},
	} {
		if err := s.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return st, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return st, nil
}

// AttachAdminRoutes mounts the catalog debug pages under /debug/ on mux:
// a live SQL console, a row count summary and a gzip database backup.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Splat catalog",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("catalog-stats", "Catalog row counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Stats()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, st)
	}))

	debug.Handle("backup", "Create and download a backup of the catalog now", http.HandlerFunc(s.serveBackup))
	return nil
}

func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "splat-catalog-backup")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("catalog-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		logf("backup copy failed: %v", err)
	}
}
