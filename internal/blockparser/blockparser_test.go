package blockparser

import (
	"testing"

	"github.com/tonkeeper/tongo/tlb"
)

func TestIsOrdinarySkipsTickTock(t *testing.T) {
	var ord tlb.Transaction
	ord.Description.SumType = "TransOrd"
	if !isOrdinary(ord) {
		t.Errorf("expected TransOrd to be ordinary")
	}

	var tick tlb.Transaction
	tick.Description.SumType = "TransTickTock"
	if isOrdinary(tick) {
		t.Errorf("expected TransTickTock to be skipped")
	}
}
