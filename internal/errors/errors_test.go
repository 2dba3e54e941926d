package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryHelpers(t *testing.T) {
	cases := []struct {
		err  error
		conf bool
		cons bool
		pers bool
		read bool
	}{
		{ErrInvalidConfig, true, false, false, false},
		{ErrMissingDirectory, true, false, false, false},
		{ErrConsumerRunning, false, true, false, false},
		{ErrConsumerStopped, false, true, false, false},
		{ErrPersistence, false, false, true, false},
		{ErrCorruptPartition, false, false, true, false},
		{ErrOffsetOutOfRange, false, false, false, true},
		{ErrEmptyResolution, false, false, false, true},
		{ErrMalformedSelector, false, false, false, true},
	}
	for _, tc := range cases {
		if got := IsConfiguration(tc.err); got != tc.conf {
			t.Errorf("IsConfiguration(%v) = %v", tc.err, got)
		}
		if got := IsConsumerState(tc.err); got != tc.cons {
			t.Errorf("IsConsumerState(%v) = %v", tc.err, got)
		}
		if got := IsPersistence(tc.err); got != tc.pers {
			t.Errorf("IsPersistence(%v) = %v", tc.err, got)
		}
		if got := IsReadQuery(tc.err); got != tc.read {
			t.Errorf("IsReadQuery(%v) = %v", tc.err, got)
		}
	}
}

func TestCategoriesSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("configure fileset: %w", ErrSchemaImmutable)
	if !errors.Is(err, ErrSchemaImmutable) {
		t.Fatal("wrapped sentinel not matched")
	}

	err = Wrapf(ErrOffsetOutOfRange, "read [%d,%d)", 10, 20)
	if !IsReadQuery(err) {
		t.Fatal("wrapped read query error lost its category")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}
