package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drummonds/pagextract/config"
	"github.com/drummonds/pagextract/database"
	"github.com/ledongthuc/pdf"
)

// rejectedFolder collects ingress files that could not be rendered
const rejectedFolder = "rejected"

// ErrNoPages is returned by preflight for documents without a page tree
var ErrNoPages = errors.New("document has no pages")

func (serverHandler *ServerHandler) ingressJobFunc(serverConfig config.ServerConfig) {
	if !serverHandler.ingesting.CompareAndSwap(false, true) {
		Logger.Info("Ingress job already running, skipping")
		return
	}
	defer serverHandler.ingesting.Store(false)
	// Add panic recovery to prevent entire application crash
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in ingress job", "panic", r)
		}
	}()

	serverConfig = database.FetchConfigFromDB(serverHandler.DB, serverConfig)
	Logger.Info("Starting Ingress Job on folder", "path", serverConfig.IngressPath)

	rejectedPath := filepath.Join(serverConfig.IngressPath, rejectedFolder)
	var ingressPath []string
	err := filepath.Walk(serverConfig.IngressPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			Logger.Warn("Unable to get information for file, won't process", "filePath", path, "error", err)
			return nil
		}
		if info.IsDir() {
			if path == rejectedPath {
				return filepath.SkipDir
			}
			return nil
		}
		ingressPath = append(ingressPath, path)
		return nil
	})
	if err != nil {
		Logger.Error("Error reading files in from ingress", "error", err)
	}

	processed := 0
	for _, filePath := range ingressPath {
		if !isProcessableDocument(filePath) {
			Logger.Debug("Skipping non PDF file", "filePath", filePath)
			continue
		}
		if err := serverHandler.ingressDocument(filePath, serverConfig); err != nil {
			if errors.Is(err, ErrTooManyRuns) {
				Logger.Info("Every run slot is taken, leaving the rest for the next scan", "filePath", filePath)
				break
			}
			Logger.Warn("Ingress of document failed", "filePath", filePath, "error", err)
			continue
		}
		processed++
	}
	Logger.Info("Ingress Job finished", "found", len(ingressPath), "processed", processed)
	deleteEmptyIngressFolders(serverConfig.IngressPath) //after ingress clean empty folders
}

// ingressDocument renders one ingress file and waits for the run to finish
func (serverHandler *ServerHandler) ingressDocument(filePath string, serverConfig config.ServerConfig) error {
	pages, err := pdfPreflight(filePath)
	if err != nil {
		Logger.Warn("Document failed preflight", "filePath", filePath, "error", err)
		return errors.Join(err, rejectDocument(filePath, serverConfig))
	}
	Logger.Debug("Document passed preflight", "filePath", filePath, "pages", pages)

	run, err := serverHandler.Runs.Start(filePath)
	if errors.Is(err, ErrTooManyRuns) {
		return err
	}
	if err != nil {
		return errors.Join(err, rejectDocument(filePath, serverConfig))
	}
	if err := serverHandler.Runs.Wait(context.Background(), run.ID); err != nil {
		return err
	}
	return ingressCleanup(filePath, serverHandler.Runs.OutputDir(run.ID), serverConfig)
}

func isProcessableDocument(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// pdfPreflight parses the cross reference table and page tree before a
// render backend is asked to open the file. The parser panics on some
// malformed input so the panic is turned into an error.
func pdfPreflight(file string) (pages int, err error) {
	fileName := filepath.Base(file)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF %s: %v", fileName, r)
		}
	}()

	pdfFile, result, err := pdf.Open(file)
	if err != nil {
		Logger.Error("Unable to open PDF", "fileName", fileName)
		return 0, err
	}
	defer pdfFile.Close()

	pages = result.NumPage()
	if pages == 0 {
		return 0, ErrNoPages
	}
	return pages, nil
}

// rejectDocument moves a document that cannot be rendered out of the way so
// the next scan does not pick it up again
func rejectDocument(filePath string, serverConfig config.ServerConfig) error {
	rejectedPath := filepath.Join(serverConfig.IngressPath, rejectedFolder)
	if err := os.MkdirAll(rejectedPath, os.ModePerm); err != nil {
		return err
	}
	target := filepath.Join(rejectedPath, filepath.Base(filePath))
	Logger.Info("Moving document to rejected folder", "filePath", filePath, "target", target)
	return moveFile(filePath, target)
}

// ingressCleanup removes the source document, or keeps it next to its pages
func ingressCleanup(fileName, outputDir string, serverConfig config.ServerConfig) error {
	if serverConfig.IngressDelete {
		return os.Remove(fileName)
	}
	return moveFile(fileName, filepath.Join(outputDir, "source.pdf"))
}

// moveFile renames src to dst, copying when they sit on different devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return err
	}
	_, err = io.Copy(out, in)
	in.Close()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return os.Remove(src)
}

func deleteEmptyIngressFolders(path string) {
	Logger.Info("Running cleanup on ingress folder", "path", path)
	err := filepath.Walk(path, func(currentFile string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path == currentFile || !info.IsDir() {
			return nil
		}
		f, err := os.Open(currentFile)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = f.Readdirnames(1)
		if err == io.EOF {
			Logger.Debug("Removing Empty Folder", "currentFile", currentFile)
			os.RemoveAll(currentFile)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		Logger.Error("Error cleaning ingress folder", "path", path, "error", err)
	}
}
