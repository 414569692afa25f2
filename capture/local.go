package capture

import (
	"io"
	"os"
)

func openLocal(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
