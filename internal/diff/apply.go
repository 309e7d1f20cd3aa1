package diff

import (
	"strconv"

	"github.com/acrlabs/backuppy/internal/backuperrors"
	"github.com/acrlabs/backuppy/internal/ioiter"
)

// Apply reads orig and a diff produced by Compute, and writes the
// reconstructed file to out. It is a direct port of apply_diff from
// original_source/backuppy/blob.py: parse one step at a time from the
// streamed diff bytes, copying unmodified spans from orig as needed, and
// return DiffParseError on anything that doesn't parse.
func Apply(orig, diffIn, out *ioiter.IOIter) error {
	diffReader, err := diffIn.Reader(-1, true)
	if err != nil {
		return err
	}
	writer, err := out.Writer()
	if err != nil {
		return err
	}

	// copyOrigTo streams orig from its current fd position up to the
	// absolute offset target, the same contract as orig_file.reader(end=
	// target, reset_pos=False) in the original implementation.
	copyOrigTo := func(target int64) error {
		r, err := orig.Reader(target, false)
		if err != nil {
			return err
		}
		for {
			block, ok, err := r.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := writer.Write(block); err != nil {
				return err
			}
		}
	}

	var buf []byte
	var offset int64

	for {
		chunk, ok, err := diffReader.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		buf = append(buf, chunk...)

		for len(buf) > 0 {
			posEnd := indexByte(buf, sep)
			if posEnd < 0 {
				break
			}
			alEnd := indexByteFrom(buf, sep, posEnd+1)
			if alEnd < 0 {
				break
			}

			posField := buf[:posEnd]
			actionLenField := buf[posEnd+1 : alEnd]
			if len(posField) == 0 || posField[0] != '@' {
				return backuperrors.NewDiffParseError("malformed position field: " + string(posField))
			}
			contentsPos, err := strconv.ParseInt(string(posField[1:]), 10, 64)
			if err != nil {
				return backuperrors.NewDiffParseError("bad position: " + string(posField))
			}
			if len(actionLenField) < 1 {
				return backuperrors.NewDiffParseError("missing action byte")
			}
			action := Action(actionLenField[0])
			length, err := strconv.Atoi(string(actionLenField[1:]))
			if err != nil {
				return backuperrors.NewDiffParseError("bad length: " + string(actionLenField))
			}

			remainder := buf[alEnd+1:]
			if action != ActionDelete && len(remainder) < length {
				break // need more bytes from the next diff chunk
			}

			if err := copyOrigTo(contentsPos - offset); err != nil {
				return err
			}

			var contents []byte
			if action != ActionDelete {
				contents = remainder[:length]
				buf = remainder[length:]
			} else {
				buf = remainder
			}

			switch action {
			case ActionDelete:
				if err := orig.SeekForward(int64(length)); err != nil {
					return err
				}
				offset -= int64(length)
			case ActionInsert:
				if err := writer.Write(contents); err != nil {
					return err
				}
				offset += int64(length)
			case ActionReplace:
				if err := writer.Write(contents); err != nil {
					return err
				}
				if err := orig.SeekForward(int64(length)); err != nil {
					return err
				}
			default:
				return backuperrors.NewDiffParseError("expected an action, found " + string(rune(action)))
			}
		}
	}

	if len(buf) > 0 {
		return backuperrors.NewDiffParseError("unparseable trailing diff bytes")
	}

	// Whatever remains of orig past the last edit is unchanged; copy it.
	origSize, err := orig.Size()
	if err != nil {
		return err
	}
	return copyOrigTo(origSize)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func indexByteFrom(b []byte, c byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}
