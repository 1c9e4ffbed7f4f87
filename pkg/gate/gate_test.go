package gate

import (
	"testing"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/session"
)

func result(status vision.Status, message string) vision.Result {
	return vision.Result{Status: status, Message: message, HasChanges: true}
}

func sent(status vision.Status, message string) session.State {
	return session.State{LastStatus: status, LastMessage: message, BaselineSent: true}
}

func TestBaselineAlwaysSent(t *testing.T) {
	prior := session.State{LastStatus: vision.StatusNone}
	send, next := Decide(result(vision.StatusOK, "all good"), prior, 0)
	if !send {
		t.Fatalf("first result suppressed")
	}
	if !next.BaselineSent || next.LastStatus != vision.StatusOK || next.LastMessage != "all good" {
		t.Fatalf("next state = %+v", next)
	}
}

func TestDangerAlwaysSent(t *testing.T) {
	prior := sent(vision.StatusDanger, "fire ahead, stop moving")
	send, _ := Decide(result(vision.StatusDanger, "fire ahead, stop moving"), prior, 0)
	if !send {
		t.Fatalf("repeated danger suppressed")
	}
}

func TestEscalationSent(t *testing.T) {
	prior := sent(vision.StatusOK, "everything looks fine")
	send, _ := Decide(result(vision.StatusNeedsAdjustment, "everything looks fine"), prior, 0)
	if !send {
		t.Fatalf("ok to needs_adjustment suppressed")
	}
}

func TestRecoverySent(t *testing.T) {
	prior := sent(vision.StatusNeedsAdjustment, "adjust your grip")
	send, _ := Decide(result(vision.StatusOK, "adjust your grip"), prior, 0)
	if !send {
		t.Fatalf("needs_adjustment to ok suppressed")
	}
}

func TestRepeatedOKSuppressed(t *testing.T) {
	prior := sent(vision.StatusOK, "Everything proceeding well, keep going.")
	send, next := Decide(result(vision.StatusOK, "Everything proceeding well, keep going."), prior, 0)
	if send {
		t.Fatalf("identical ok message sent")
	}
	if next != prior {
		t.Fatalf("suppressed decision changed state: %+v", next)
	}
}

func TestNovelMessageSent(t *testing.T) {
	prior := sent(vision.StatusOK, "Everything proceeding well, keep going.")
	send, next := Decide(result(vision.StatusOK, "A door just opened on your left."), prior, 0)
	if !send {
		t.Fatalf("novel message suppressed")
	}
	if next.LastMessage != "A door just opened on your left." {
		t.Fatalf("next state = %+v", next)
	}
}

func TestRepeatedAdjustmentSuppressed(t *testing.T) {
	prior := sent(vision.StatusNeedsAdjustment, "Lower your arms a little.")
	send, _ := Decide(result(vision.StatusNeedsAdjustment, "Lower your arms a little."), prior, 0)
	if send {
		t.Fatalf("repeated identical adjustment sent")
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("both empty = %v, want 1", got)
	}
	if got := Similarity("keep going", "Keep Going"); got != 1 {
		t.Fatalf("case-insensitive match = %v, want 1", got)
	}
	if got := Similarity("keep going", "danger ahead"); got >= DefaultSimilarityThreshold {
		t.Fatalf("unrelated messages scored %v", got)
	}
}
