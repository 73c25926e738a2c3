package corosql

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestClassify_Retryable(t *testing.T) {
	for _, num := range []uint16{1213, 1205} {
		err := &mysql.MySQLError{Number: num, Message: "simulated"}
		if got := Classify(err); got != ErrClassRetryable {
			t.Fatalf("Classify(%d) = %v, want ErrClassRetryable", num, got)
		}
	}
}

func TestClassify_Conflict(t *testing.T) {
	err := &mysql.MySQLError{Number: 1062, Message: "duplicate"}
	if got := Classify(err); got != ErrClassConflict {
		t.Fatalf("Classify(1062) = %v, want ErrClassConflict", got)
	}
}

func TestClassify_Unknown(t *testing.T) {
	if got := Classify(errors.New("not a mysql error")); got != ErrClassUnknown {
		t.Fatalf("Classify(generic) = %v, want ErrClassUnknown", got)
	}
	err := &mysql.MySQLError{Number: 1, Message: "other"}
	if got := Classify(err); got != ErrClassUnknown {
		t.Fatalf("Classify(1) = %v, want ErrClassUnknown", got)
	}
}

func TestQueryError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	qe := &QueryError{SQL: "SELECT 1", Tag: QueryErrorExecute, Cause: cause}
	if !errors.Is(qe, cause) {
		t.Fatalf("expected QueryError to unwrap to cause")
	}
}

func TestTransactionFailed_Unwrap(t *testing.T) {
	cause := errors.New("deadlock")
	tf := &TransactionFailed{Attempts: 3, Cause: cause}
	if !errors.Is(tf, cause) {
		t.Fatalf("expected TransactionFailed to unwrap to cause")
	}
}
