package file_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/memory"
	"github.com/chatunreal/unreal/pkg/memory/file"
)

var _ = Describe("File Memory Store", func() {
	var (
		tmpDir string
		path   string
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "unreal-memory-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(tmpDir, "chat_memory.json")
		ctx = context.Background()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Append and Recent", func() {
		It("returns appended turns oldest-first", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Append(ctx, "default", chat.NewTurn(chat.RoleUser, "one"))).To(Succeed())
			Expect(s.Append(ctx, "default", chat.NewTurn(chat.RoleAssistant, "two"))).To(Succeed())

			turns, err := s.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))
			Expect(turns[0].Text).To(Equal("one"))
			Expect(turns[1].Text).To(Equal("two"))
		})

		It("evicts the oldest turns beyond the bound", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			for i := 1; i <= 25; i++ {
				turn := chat.NewTurn(chat.RoleUser, fmt.Sprintf("turn-%d", i))
				Expect(s.Append(ctx, "default", turn)).To(Succeed())
			}

			turns, err := s.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(20))
			Expect(turns[0].Text).To(Equal("turn-6"))
			Expect(turns[19].Text).To(Equal("turn-25"))
		})

		It("limits Recent to the requested k", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			for i := 1; i <= 10; i++ {
				Expect(s.Append(ctx, "default", chat.NewTurn(chat.RoleUser, fmt.Sprintf("t%d", i)))).To(Succeed())
			}

			turns, err := s.Recent(ctx, "default", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(3))
			Expect(turns[0].Text).To(Equal("t8"))
			Expect(turns[2].Text).To(Equal("t10"))
		})

		It("namespaces sessions independently", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Append(ctx, "alpha", chat.NewTurn(chat.RoleUser, "from alpha"))).To(Succeed())
			Expect(s.Append(ctx, "beta", chat.NewTurn(chat.RoleUser, "from beta"))).To(Succeed())

			alpha, err := s.Recent(ctx, "alpha", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(alpha).To(HaveLen(1))
			Expect(alpha[0].Text).To(Equal("from alpha"))

			beta, err := s.Recent(ctx, "beta", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(beta).To(HaveLen(1))
			Expect(beta[0].Text).To(Equal("from beta"))
		})

		It("returns empty for an unknown session", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			turns, err := s.Recent(ctx, "nobody", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(BeEmpty())
		})
	})

	Describe("Persistence", func() {
		It("survives a store restart", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Append(ctx, "default", chat.NewTurn(chat.RoleUser, "durable"))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			reopened, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			turns, err := reopened.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Text).To(Equal("durable"))
		})

		It("treats a corrupt memory file as empty", func() {
			Expect(os.WriteFile(path, []byte("{not json"), 0o600)).To(Succeed())

			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			turns, err := s.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(BeEmpty())
		})

		It("re-clips a file that exceeds the bound", func() {
			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())
			for i := 1; i <= 20; i++ {
				Expect(s.Append(ctx, "default", chat.NewTurn(chat.RoleUser, fmt.Sprintf("t%d", i)))).To(Succeed())
			}

			// Reopen with a tighter bound.
			reopened, err := file.NewStore(path, 5)
			Expect(err).NotTo(HaveOccurred())

			turns, err := reopened.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(5))
			Expect(turns[0].Text).To(Equal("t16"))
		})
	})

	Describe("Degraded mode", func() {
		It("still updates the window when the directory becomes unwritable", func() {
			if os.Geteuid() == 0 {
				Skip("directory permissions do not bind root")
			}

			s, err := file.NewStore(path, 20)
			Expect(err).NotTo(HaveOccurred())

			Expect(os.Chmod(tmpDir, 0o500)).To(Succeed())
			defer os.Chmod(tmpDir, 0o755)

			err = s.Append(ctx, "default", chat.NewTurn(chat.RoleUser, "best effort"))
			Expect(err).To(MatchError(memory.ErrDegraded))

			turns, err := s.Recent(ctx, "default", 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Text).To(Equal("best effort"))
		})
	})

	Describe("NewStore", func() {
		It("rejects a non-positive bound", func() {
			_, err := file.NewStore(path, 0)
			Expect(err).To(HaveOccurred())
		})
	})
})
