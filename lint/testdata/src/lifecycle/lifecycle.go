// Package lifecycle contains test fixtures for the scope close checker.
package lifecycle

import (
	scoped "github.com/goliatone/go-scoped"
)

type Session struct {
	scoped.Scope
	User string
}

var Sessions = scoped.MustRegister[*Session]("Session")

// ===== SHOULD REPORT =====

func badOpenWithoutClose() {
	s, err := Sessions.Open(&Session{User: "ada"}) // want `scope opened without a matching Close in this function; use Do or defer Close`
	if err != nil {
		return
	}
	_ = s
}

func badOpenCloseInGoroutine() {
	s, err := Sessions.Open(&Session{User: "ada"}) // want `scope opened without a matching Close in this function; use Do or defer Close`
	if err != nil {
		return
	}
	go func() {
		_ = s.Close()
	}()
}

func badOpenInBranch(cond bool) {
	if cond {
		s, _ := Sessions.Open(&Session{}) // want `scope opened without a matching Close in this function; use Do or defer Close`
		_ = s
	}
}

// ===== SHOULD NOT REPORT =====

func goodDeferClose() error {
	s, err := Sessions.Open(&Session{User: "ada"})
	if err != nil {
		return err
	}
	defer s.Close()
	return nil
}

func goodExplicitClose() error {
	s, err := Sessions.Open(&Session{User: "ada"})
	if err != nil {
		return err
	}
	return s.Close()
}

func goodCloseViaArgument() error {
	s := &Session{User: "ada"}
	if _, err := Sessions.Open(s); err != nil {
		return err
	}
	return s.Close()
}

func goodDo() error {
	return Sessions.Do(&Session{User: "ada"}, func(s *Session) error {
		return nil
	})
}

func goodNoOpen() {
	s, _ := Sessions.Current()
	_ = s
}

func goodUnrelatedOpen() {
	open := func() {}
	open()
}
