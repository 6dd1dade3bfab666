package nativehost

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadMessage(t *testing.T) {
	t.Parallel()
	huge := make([]byte, 4)
	binary.LittleEndian.PutUint32(huge, MaxMessageSize+1)

	tests := []struct {
		name    string
		input   []byte
		want    []byte
		wantErr bool
	}{
		{"simple", append([]byte{5, 0, 0, 0}, "hello"...), []byte("hello"), false},
		{"empty", []byte{0, 0, 0, 0}, []byte{}, false},
		{"json", append([]byte{8, 0, 0, 0}, `{"id":1}`...), []byte(`{"id":1}`), false},
		{"short header", []byte{5, 0}, nil, true},
		{"short body", append([]byte{10, 0, 0, 0}, "short"...), nil, true},
		{"too large", huge, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadMessage(bytes.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadMessage error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Fatalf("ReadMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteMessage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteMessage(&buf, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if want := []byte{2, 0, 0, 0, 'h', 'i'}; !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("wrote %v, want %v", buf.Bytes(), want)
	}
	if err := WriteMessage(&buf, make([]byte, MaxMessageSize+1)); err == nil {
		t.Fatal("oversized message accepted")
	}
}

func TestFrameKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want frameKind
	}{
		{`{"id":3,"ok":true,"result":[]}`, kindResponse},
		{`{"id":4,"method":"hop.state"}`, kindRequest},
		{`{"event":"human.input"}`, kindEvent},
		{`{"id":0,"ok":false,"error":"x"}`, kindResponse},
	}
	for _, tt := range tests {
		f, err := parseFrame([]byte(tt.raw))
		if err != nil {
			t.Fatalf("parseFrame(%s): %v", tt.raw, err)
		}
		if got := f.kind(); got != tt.want {
			t.Errorf("kind(%s) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
