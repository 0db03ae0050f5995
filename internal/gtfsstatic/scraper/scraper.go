// Package scraper fetches the static GTFS archive and unpacks it into a
// timestamped directory for the loader.
package scraper

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/transitdelay-data/internal/common/logger"
)

type Scraper struct {
	client *http.Client
	logger logger.Logger
}

func New(log logger.Logger) *Scraper {
	return &Scraper{
		client: &http.Client{
			Timeout: 5 * time.Minute, // Large files may take time
		},
		logger: log,
	}
}

// Fetch downloads the archive at url and unpacks it under baseDir,
// returning the directory holding the extracted GTFS files.
func (s *Scraper) Fetch(ctx context.Context, url, baseDir string) (string, error) {
	archivePath, err := s.download(ctx, url, baseDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	extractDir := filepath.Join(baseDir, fmt.Sprintf("gtfs_%d", time.Now().Unix()))
	if err := unpack(archivePath, extractDir); err != nil {
		return "", fmt.Errorf("unpacking archive: %w", err)
	}

	entries, err := filepath.Glob(filepath.Join(extractDir, "*.txt"))
	if err == nil {
		s.logger.Info("Archive extracted", "dir", extractDir, "txt_files", len(entries))
		if len(entries) == 0 {
			s.logger.Warn("No .txt files found in extracted archive", "dir", extractDir)
		}
	}

	return extractDir, nil
}

func (s *Scraper) download(ctx context.Context, url, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	tempFile, err := os.CreateTemp(destDir, "gtfs_download_*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()

	s.logger.Info("Starting download", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/zip, application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	written, err := io.Copy(tempFile, resp.Body)
	tempFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("downloading archive: %w", err)
	}

	s.logger.Info("Download completed", "url", url, "size_bytes", written)
	return tempPath, nil
}

// unpack extracts every file in the zip flat into destDir. Entry names
// are sanitized so a crafted archive cannot write outside it.
func unpack(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating extract directory: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || strings.HasPrefix(name, "/") {
			continue
		}
		if err := extractOne(f, filepath.Join(destDir, name)); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractOne(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
