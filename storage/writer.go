package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
)

// Encryptor is the narrow C3 surface C4 needs: encrypt the compressed
// column block and report which key id protected it. A nil Encryptor
// passed to WriteBatch disables encryption for that artifact.
type Encryptor interface {
	Encrypt(plaintext, aad []byte) ([]byte, error)
	CurrentKeyIDString() string
}

// WriteBatch implements spec.md §4.4: columnar-encode records, compress,
// optionally encrypt, then publish atomically under
// <root>/YYYY/MM/DD/<session>_<seq>.col with its .meta.json sidecar.
//
// Discipline: artifact.col.tmp -> fsync file -> artifact.meta.json.tmp ->
// fsync file -> rename meta into place -> rename artifact into place ->
// fsync containing directory, matching wal.headBlock.Complete's work-dir
// rename pattern extended with the directory fsync spec.md requires.
func (m *Manager) WriteBatch(records []*event.EventRecord, when time.Time, sessionID string, seq uint64, enc Encryptor, alg integrity.Algorithm, temporalWarning bool) (*Artifact, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("storage: WriteBatch called with no records")
	}

	dir := datedDir(m.cfg.Root, when)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, classifyErr("mkdir", err)
	}

	columns, err := encodeColumns(records, m.cfg.RowGroupSize)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding columns: %w", err)
	}
	uncompressedSize := int64(len(columns))

	compressed, err := compress(columns, m.cfg.ZstdLevel)
	if err != nil {
		return nil, fmt.Errorf("storage: compressing columns: %w", err)
	}

	onDisk := compressed
	keyID := ""
	if enc != nil {
		onDisk, err = enc.Encrypt(compressed, []byte(sessionID))
		if err != nil {
			return nil, fmt.Errorf("storage: encrypting artifact: %w", err)
		}
		keyID = enc.CurrentKeyIDString()
	}

	digest, err := integrity.Checksum(alg, onDisk)
	if err != nil {
		return nil, fmt.Errorf("storage: checksumming artifact: %w", err)
	}

	base := artifactBasename(sessionID, seq)
	artifactPath := filepath.Join(dir, base+".col")
	sidecarPath := filepath.Join(dir, base+".meta.json")
	artifactTmp := artifactPath + ".tmp"
	sidecarTmp := sidecarPath + ".tmp"

	if err := writeAndFsync(artifactTmp, onDisk); err != nil {
		return nil, classifyErr("write artifact temp", err)
	}

	sidecar := Sidecar{
		SchemaVersion:    integrity.Current,
		RecordCount:      len(records),
		ByteSizeOnDisk:   int64(len(onDisk)),
		UncompressedSize: uncompressedSize,
		ChecksumAlgo:     digest.Algorithm,
		ChecksumSum:      digest.Sum,
		EncryptionKeyID:  keyID,
		TemporalWarning:  temporalWarning,
		CreatedAtUnixNS:  when.UnixNano(),
	}
	sidecarBytes, err := json.Marshal(sidecar)
	if err != nil {
		_ = os.Remove(artifactTmp)
		return nil, fmt.Errorf("storage: marshaling sidecar: %w", err)
	}
	if err := writeAndFsync(sidecarTmp, sidecarBytes); err != nil {
		_ = os.Remove(artifactTmp)
		return nil, classifyErr("write sidecar temp", err)
	}

	if err := os.Rename(sidecarTmp, sidecarPath); err != nil {
		_ = os.Remove(artifactTmp)
		_ = os.Remove(sidecarTmp)
		return nil, classifyErr("rename sidecar", err)
	}
	if err := os.Rename(artifactTmp, artifactPath); err != nil {
		return nil, classifyErr("rename artifact", err)
	}
	if err := fsyncDir(dir); err != nil {
		return nil, classifyErr("fsync directory", err)
	}

	return &Artifact{
		Path:             artifactPath,
		SchemaVersion:    sidecar.SchemaVersion,
		RecordCount:      sidecar.RecordCount,
		ByteSizeOnDisk:   sidecar.ByteSizeOnDisk,
		UncompressedSize: sidecar.UncompressedSize,
		Checksum:         digest,
		EncryptionKeyID:  keyID,
		TemporalWarning:  temporalWarning,
	}, nil
}

func compress(data []byte, level int) ([]byte, error) {
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	w, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(data, nil)
}

func writeAndFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// classifyErr maps an os error into a FatalError when spec.md §4.4
// names it a hard failure (NoSpace, PermissionDenied), leaving other
// errors as plain wrapped errors the packer retries once.
func classifyErr(op string, err error) error {
	if os.IsPermission(err) {
		return &FatalError{Op: op, Err: err}
	}
	if isNoSpace(err) {
		return &FatalError{Op: op, Err: err}
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

func isNoSpace(err error) bool {
	var pathErr *fs.PathError
	if asPathError(err, &pathErr) {
		err = pathErr.Err
	}
	return err != nil && err.Error() == "no space left on device"
}

func asPathError(err error, target **fs.PathError) bool {
	pe, ok := err.(*fs.PathError)
	if ok {
		*target = pe
	}
	return ok
}
