package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

// renameFile renames tmpPath to finalPath, always creating finalPath's
// parent directory first; no host feature flag (such as
// ENABLE_CREATE_TARGET_DIR) is consulted.
func renameFile(tmpPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("worker: creating target directory for %s: %w", finalPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("worker: renaming %s to %s: %w", tmpPath, finalPath, err)
	}
	return nil
}

// removeFile best-effort deletes path, ignoring a not-exist error.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// localTmpName encodes a remote file name into a local, filesystem-safe tmp
// name: forward slashes become backslashes so a remote path segment never
// creates an unintended local sub-directory.
func localTmpName(remoteName string) string {
	out := make([]byte, 0, len(remoteName))
	for i := 0; i < len(remoteName); i++ {
		if remoteName[i] == '/' {
			out = append(out, '\\')
		} else {
			out = append(out, remoteName[i])
		}
	}
	return string(out) + ".tmp"
}

// noNameFallback builds the generated name used when the remote entry's
// name is empty (e.g. a url_creates_file_name job whose final name is only
// known from the response).
func noNameFallback(slot, counter int) string {
	return fmt.Sprintf("NO_NAME.%d.%d", slot, counter)
}
