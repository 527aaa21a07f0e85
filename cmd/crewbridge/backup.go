package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	goarchive "github.com/moby/go-archive"

	"github.com/mtzanidakis/crewbridge/internal/store"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" {
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: crewbridge backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	size, err := backupStore(db, filepath.Base(cfg.Store.Path), outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("Backup complete: %s\n", formatSize(size))
	return nil
}

// backupStore snapshots the database with VACUUM INTO, so the copy is
// consistent while the gateway keeps writing, and writes it as a zstd
// compressed tar holding a single file called name.
func backupStore(db *store.Store, name, outputPath string) (int64, error) {
	tmp, err := os.MkdirTemp("", "crewbridge-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, name)
	if _, err := db.DB().Exec(`VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot database: %w", err)
	}

	tarStream, err := goarchive.TarWithOptions(tmp, &goarchive.TarOptions{IncludeFiles: []string{name}})
	if err != nil {
		return 0, fmt.Errorf("create tar: %w", err)
	}
	defer tarStream.Close()

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, tarStream); err != nil {
		zw.Close()
		return 0, fmt.Errorf("write archive: %w", err)
	}

	// Close explicitly to catch write errors
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: crewbridge restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := restoreStore(inputPath, cfg.Store.Path, overwrite); err != nil {
		return err
	}
	fmt.Printf("Restore complete: %s\n", cfg.Store.Path)
	return nil
}

// restoreStore extracts the database from a backup archive to dbPath. The
// gateway must not be running.
func restoreStore(inputPath, dbPath string, overwrite bool) error {
	if _, err := os.Stat(dbPath); err == nil && !overwrite {
		return fmt.Errorf("database %s already exists, add -overwrite to replace it", dbPath)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	// Extract next to the target so the final rename stays on one filesystem.
	tmp, err := os.MkdirTemp(dir, ".restore-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := goarchive.Untar(zr, tmp, &goarchive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	src, err := findDatabase(tmp)
	if err != nil {
		return err
	}

	// Stale WAL files would be replayed over the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	if err := os.Rename(src, dbPath); err != nil {
		return fmt.Errorf("move database: %w", err)
	}
	slog.Info("database restored", "path", dbPath)
	return nil
}

// findDatabase returns the single regular file at the top of an extracted
// archive.
func findDatabase(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var found []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			found = append(found, e.Name())
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("archive must contain exactly one database file, found %d", len(found))
	}
	return filepath.Join(dir, found[0]), nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
