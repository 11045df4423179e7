package automations_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAutomations(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Automations Suite")
}
