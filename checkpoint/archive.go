// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package checkpoint

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/units"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	// Format is the archive layout version written by this package.
	Format = 1

	metadataName = "checkpoint.json"
	dumpName     = "state.dump"

	codecVersion  = 0
	maxRecordSize = 64 * units.MiB
	batchSize     = 4 * units.MiB
)

var recordCodec codec.Manager

func init() {
	c := linearcodec.NewDefault()
	recordCodec = codec.NewManager(maxRecordSize)
	if err := recordCodec.RegisterCodec(codecVersion, c); err != nil {
		panic(err)
	}
}

// Metadata describes an archive. It is stored as JSON next to the dump.
type Metadata struct {
	Format         int         `json:"format"`
	ID             uuid.UUID   `json:"id"`
	Created        time.Time   `json:"created"`
	Magic          uint32      `json:"magic"`
	AddressVersion byte        `json:"addressVersion"`
	ScriptHash     ids.ShortID `json:"scriptHash"`
	Height         uint64      `json:"height"`
	BlockID        ids.ID      `json:"blockID"`
	Entries        uint64      `json:"entries"`
	Digest         ids.ID      `json:"digest"`
}

// KVPair is one record of the state dump.
type KVPair struct {
	Key   []byte `serialize:"true"`
	Value []byte `serialize:"true"`
}

// dumpWriter writes length prefixed records into a snappy stream and
// hashes the uncompressed bytes.
type dumpWriter struct {
	compressed *snappy.Writer
	digest     hash.Hash
	raw        io.Writer
	entries    uint64
}

func newDumpWriter(w io.Writer) *dumpWriter {
	d := &dumpWriter{
		compressed: snappy.NewBufferedWriter(w),
		digest:     sha256.New(),
	}
	d.raw = io.MultiWriter(d.digest, d.compressed)
	return d
}

func (d *dumpWriter) write(key, value []byte) error {
	record, err := recordCodec.Marshal(codecVersion, &KVPair{Key: key, Value: value})
	if err != nil {
		return err
	}
	prefix := make([]byte, wrappers.IntLen)
	binary.BigEndian.PutUint32(prefix, uint32(len(record)))
	if _, err := d.raw.Write(prefix); err != nil {
		return err
	}
	if _, err := d.raw.Write(record); err != nil {
		return err
	}
	d.entries++
	return nil
}

func (d *dumpWriter) close() (ids.ID, error) {
	if err := d.compressed.Close(); err != nil {
		return ids.Empty, err
	}
	return ids.ToID(d.digest.Sum(nil))
}

// dump writes every entry of [db] to [w].
func dump(ctx context.Context, db database.Database, w io.Writer) (uint64, ids.ID, error) {
	d := newDumpWriter(w)
	it := db.NewIterator()
	defer it.Release()

	for it.Next() {
		if d.entries%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, ids.Empty, err
			}
		}
		if err := d.write(it.Key(), it.Value()); err != nil {
			return 0, ids.Empty, err
		}
	}
	if err := it.Error(); err != nil {
		return 0, ids.Empty, err
	}
	digest, err := d.close()
	return d.entries, digest, err
}

// load reads a state dump from [r] into [db] in batches and returns the
// record count and digest it saw.
func load(ctx context.Context, r io.Reader, db database.Database) (uint64, ids.ID, error) {
	digest := sha256.New()
	raw := io.TeeReader(snappy.NewReader(r), digest)
	batch := db.NewBatch()

	var (
		entries uint64
		prefix  = make([]byte, wrappers.IntLen)
	)
	for {
		if _, err := io.ReadFull(raw, prefix); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, ids.Empty, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		size := binary.BigEndian.Uint32(prefix)
		if size > maxRecordSize {
			return 0, ids.Empty, fmt.Errorf("%w: record of %d bytes", ErrCorruptArchive, size)
		}
		record := make([]byte, size)
		if _, err := io.ReadFull(raw, record); err != nil {
			return 0, ids.Empty, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		pair := KVPair{}
		if _, err := recordCodec.Unmarshal(record, &pair); err != nil {
			return 0, ids.Empty, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if err := batch.Put(pair.Key, pair.Value); err != nil {
			return 0, ids.Empty, err
		}
		entries++

		if batch.Size() >= batchSize {
			if err := ctx.Err(); err != nil {
				return 0, ids.Empty, err
			}
			if err := batch.Write(); err != nil {
				return 0, ids.Empty, err
			}
			batch.Reset()
		}
	}
	if err := batch.Write(); err != nil {
		return 0, ids.Empty, err
	}
	sum, err := ids.ToID(digest.Sum(nil))
	return entries, sum, err
}

// writeArchive writes the tar holding [meta] followed by the dump stored
// in [dumpFile].
func writeArchive(w io.Writer, meta *Metadata, dumpFile *os.File) error {
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	info, err := dumpFile.Stat()
	if err != nil {
		return err
	}
	if _, err := dumpFile.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{
		Name:    metadataName,
		Mode:    0o644,
		Size:    int64(len(metaBytes)),
		ModTime: meta.Created,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(metaBytes); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    dumpName,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: meta.Created,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, dumpFile); err != nil {
		return err
	}
	return tw.Close()
}

// openArchive reads the metadata of the archive behind [tr] and leaves the
// reader positioned at the start of the dump.
func openArchive(tr *tar.Reader) (*Metadata, error) {
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if hdr.Name != metadataName {
		return nil, fmt.Errorf("%w: expected %s but found %s", ErrCorruptArchive, metadataName, hdr.Name)
	}
	meta := &Metadata{}
	if err := json.NewDecoder(io.LimitReader(tr, units.MiB)).Decode(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if meta.Format != Format {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrCorruptArchive, meta.Format)
	}
	hdr, err = tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if hdr.Name != dumpName {
		return nil, fmt.Errorf("%w: expected %s but found %s", ErrCorruptArchive, dumpName, hdr.Name)
	}
	return meta, nil
}

// ReadMetadata returns the metadata of the archive at [path].
func ReadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return openArchive(tar.NewReader(f))
}
