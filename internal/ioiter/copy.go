package ioiter

// ComputeSha drains a reader over the whole file and returns the resulting
// SHA-256 hex digest, without keeping any of the bytes.
func ComputeSha(it *IOIter) (string, error) {
	r, err := it.Reader(-1, true)
	if err != nil {
		return "", err
	}
	if err := r.Drain(); err != nil {
		return "", err
	}
	return it.Sha()
}

// Copy streams every block of src into dst and returns dst's resulting
// SHA-256 hex digest.
func Copy(src, dst *IOIter) (string, error) {
	r, err := src.Reader(-1, true)
	if err != nil {
		return "", err
	}
	w, err := dst.Writer()
	if err != nil {
		return "", err
	}
	for {
		block, ok, err := r.Next()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		if err := w.Write(block); err != nil {
			return "", err
		}
	}
	return dst.Sha()
}
