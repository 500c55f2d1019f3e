package main

import (
	"testing"

	_ "github.com/odyssey-erp/payroll/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	main()
}
