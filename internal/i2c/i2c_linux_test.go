//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func openNullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	b := &Bus{f: f, path: "/dev/null"}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestTransfer_InvalidAddr(t *testing.T) {
	b := openNullBus(t)
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).WriteReg(0x00, 0x01)
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestTransfer_EmptyIsNoop(t *testing.T) {
	b := openNullBus(t)
	if err := b.Dev(0x68).transfer(nil, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestTransfer_ClosedBus(t *testing.T) {
	b := openNullBus(t)
	d := b.Dev(0x68)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	err := d.WriteReg(0x06, 0x01)
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("err=%v want bus closed", err)
	}
}
