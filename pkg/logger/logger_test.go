package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("creates a default text logger", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf))
			l.Info("hello", "key", "value")

			output := buf.String()
			Expect(output).To(ContainSubstring("hello"))
			Expect(output).To(ContainSubstring("key"))
			Expect(output).To(ContainSubstring("value"))
		})

		It("respects debug level", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithDebug(true))
			l.Debug("debug msg")

			Expect(buf.String()).To(ContainSubstring("debug msg"))
		})

		It("filters debug when not enabled", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithDebug(false))
			l.Debug("hidden")

			Expect(buf.String()).To(BeEmpty())
		})

		It("creates a JSON logger", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true))
			l.Info("structured", "count", 42)

			var parsed map[string]any
			err := json.Unmarshal(buf.Bytes(), &parsed)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed["msg"]).To(Equal("structured"))
			Expect(parsed["count"]).To(BeNumerically("==", 42))
		})

		It("creates a pretty logger", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithPretty(true))
			l.Info("pretty output")

			Expect(buf.String()).To(ContainSubstring("pretty output"))
		})

		It("writes to multiple writers", func() {
			var a, b bytes.Buffer
			l := logger.New(logger.WithWriters(&a, &b))
			l.Info("both")

			Expect(a.String()).To(ContainSubstring("both"))
			Expect(b.String()).To(ContainSubstring("both"))
		})
	})

	Describe("Multi", func() {
		It("dispatches records to every handler", func() {
			var text, jsonBuf bytes.Buffer
			textLogger := logger.New(logger.WithWriter(&text))
			jsonLogger := logger.New(logger.WithWriter(&jsonBuf), logger.WithJSON(true))

			l := logger.Multi(textLogger, jsonLogger)
			l.Info("fan out", "run", "abc")

			Expect(text.String()).To(ContainSubstring("fan out"))
			Expect(jsonBuf.String()).To(ContainSubstring(`"run":"abc"`))
		})

		It("respects each handler's level", func() {
			var debug, info bytes.Buffer
			debugLogger := logger.New(logger.WithWriter(&debug), logger.WithDebug(true))
			infoLogger := logger.New(logger.WithWriter(&info))

			l := logger.Multi(debugLogger, infoLogger)
			l.Debug("only one sees this")

			Expect(debug.String()).To(ContainSubstring("only one sees this"))
			Expect(info.String()).To(BeEmpty())
		})
	})

	Describe("Nop", func() {
		It("produces a usable logger that writes nowhere", func() {
			l := logger.Nop()
			Expect(l).NotTo(BeNil())
			Expect(func() { l.Info("dropped", "k", 1) }).NotTo(Panic())
		})
	})
})

var _ = Describe("level names", func() {
	It("renders warnings distinctly", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf))
		l.Warn("careful")
		Expect(strings.ToUpper(buf.String())).To(ContainSubstring("WARN"))
	})
})
