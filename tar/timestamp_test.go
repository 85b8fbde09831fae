package tar

import "testing"

func TestParseFileTime(t *testing.T) {
	cases := []struct {
		in      string
		want    FileTime
		wantErr error
	}{
		{in: "123", want: FileTime{Sec: 123}},
		{in: "   556677.2", want: FileTime{Sec: 556677, Nsec: 200000000}},
		{in: "1.123456789012", want: FileTime{Sec: 1, Nsec: 123456789}},
		{in: "1.x", wantErr: ErrInvalidTimestampChar},
		{in: "0", want: FileTime{}},
		{in: "5.", want: FileTime{Sec: 5}},
		{in: "", want: FileTime{}},
		{in: "12x", wantErr: ErrInvalidTimestampChar},
	}

	for _, c := range cases {
		got, err := ParseFileTime([]byte(c.in))
		if c.wantErr != nil {
			if err != c.wantErr {
				t.Errorf("ParseFileTime(%q): got err %v, want %v", c.in, err, c.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFileTime(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFileTime(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseFileTimeOverflow(t *testing.T) {
	_, err := ParseFileTime([]byte("99999999999999999999"))
	if err != ErrTimestampOverflow {
		t.Errorf("got %v, want ErrTimestampOverflow", err)
	}
}
