package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/radio/keystore"
)

const Version = 1

type Header struct {
	Version int    `json:"version" cbor:"1,keyasint"`
	Tick    uint64 `json:"tick" cbor:"2,keyasint"`
	Created string `json:"created" cbor:"3,keyasint"`
}

// SnapshotV1 is the durable hand-off of radio hardware and encrypted channel state. Its layout is
// independent of the in-memory structures it is built from.
type SnapshotV1 struct {
	Header Header `json:"header" cbor:"1,keyasint"`

	Devices  []device.Record   `json:"devices" cbor:"2,keyasint"`
	Channels []keystore.Record `json:"channels" cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode serializes snap deterministically as CBOR.
func Encode(snap SnapshotV1) ([]byte, error) { return encMode.Marshal(snap) }

func Decode(b []byte) (SnapshotV1, error) {
	var snap SnapshotV1
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("cbor decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by the CBOR body. The file
// is replaced atomically.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	body, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeStream(f, snap.Header, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeStream(f *os.File, h Header, body []byte) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(body); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for humans and tools; the CBOR body carries its own copy.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	return decodeFrom(br)
}

func decodeFrom(br *bufio.Reader) (SnapshotV1, error) {
	var snap SnapshotV1
	if err := cbor.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("cbor decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader returns only the header line of a snapshot file.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
