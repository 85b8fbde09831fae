package tar

import "testing"

func TestPaxRecordParserBasic(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("20 path=ala/ma/kota\n")); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := p.Attributes()
	if string(got.Path) != "ala/ma/kota" {
		t.Errorf("Path = %q, want %q", got.Path, "ala/ma/kota")
	}
}

func TestPaxRecordParserMtime(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("30 mtime=1546272612.201798006\n")); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := p.Attributes()
	if got.Mtime == nil || *got.Mtime != (FileTime{Sec: 1546272612, Nsec: 201798006}) {
		t.Errorf("Mtime = %+v, want {1546272612 201798006}", got.Mtime)
	}
}

func TestPaxRecordParserSplitAtEveryByte(t *testing.T) {
	record := []byte("20 path=ala/ma/kota\n")
	for split := 0; split <= len(record); split++ {
		p := NewPaxRecordParser()
		if err := p.Decode(record[:split]); err != nil {
			t.Fatalf("split %d: first Decode: %v", split, err)
		}
		if err := p.Decode(record[split:]); err != nil {
			t.Fatalf("split %d: second Decode: %v", split, err)
		}
		if string(p.Attributes().Path) != "ala/ma/kota" {
			t.Errorf("split %d: Path = %q", split, p.Attributes().Path)
		}
	}
}

func TestPaxRecordParserByteByByte(t *testing.T) {
	record := []byte("30 mtime=1546272612.201798006\n")
	p := NewPaxRecordParser()
	for _, c := range record {
		if err := p.Decode([]byte{c}); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	}
	got := p.Attributes()
	if got.Mtime == nil || *got.Mtime != (FileTime{Sec: 1546272612, Nsec: 201798006}) {
		t.Errorf("Mtime = %+v", got.Mtime)
	}
}

func TestPaxRecordParserSplitRecord(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("30 ctime=1546272612.20")); err != nil {
		t.Fatalf("first Decode: %v", err)
	}
	if p.Attributes().Ctime != nil {
		t.Fatalf("Ctime resolved before the record was complete")
	}
	if err := p.Decode([]byte("1798006\n")); err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	got := p.Attributes().Ctime
	if got == nil || *got != (FileTime{Sec: 1546272612, Nsec: 201798006}) {
		t.Errorf("Ctime = %+v", got)
	}
}

func TestPaxRecordParserMultipleRecords(t *testing.T) {
	p := NewPaxRecordParser()
	buf := append(append([]byte{}, []byte("20 path=ala/ma/kota\n")...), []byte("12 uid=1000\n")...)
	if err := p.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := p.Attributes()
	if string(got.Path) != "ala/ma/kota" {
		t.Errorf("Path = %q", got.Path)
	}
	if got.Uid == nil || *got.Uid != 1000 {
		t.Errorf("Uid = %v", got.Uid)
	}
}

func TestPaxRecordParserUnknownKeyIgnored(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("14 SCHILY.x=y\n")); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := p.Attributes(); got.Path != nil {
		t.Errorf("unknown key should not populate any attribute, got Path=%q", got.Path)
	}
}

func TestPaxRecordParserGNUSparseKeySetsFlag(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("22 GNU.sparse.major=1\n")); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.Attributes().SawGNUSparse {
		t.Error("SawGNUSparse = false, want true after a GNU.sparse.* key")
	}
}

func TestPaxRecordParserNonSparseKeyLeavesFlagUnset(t *testing.T) {
	p := NewPaxRecordParser()
	if err := p.Decode([]byte("14 SCHILY.x=y\n")); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Attributes().SawGNUSparse {
		t.Error("SawGNUSparse = true, want false for an unrelated key")
	}
}

func TestPaxRecordParserExpectedEq(t *testing.T) {
	p := NewPaxRecordParser()
	err := p.Decode([]byte("9 nosign\n"))
	if err != ErrPaxExpectedEq {
		t.Errorf("got %v, want ErrPaxExpectedEq", err)
	}
}

func TestPaxRecordParserExpectedEol(t *testing.T) {
	p := NewPaxRecordParser()
	err := p.Decode([]byte("9 a=bbbbX"))
	if err != ErrPaxExpectedEOL {
		t.Errorf("got %v, want ErrPaxExpectedEOL", err)
	}
}
