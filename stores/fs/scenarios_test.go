package fs_test

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/stores/fs"
)

type outbox struct {
	mu    sync.Mutex
	links []string
}

func (o *outbox) SendVerificationEmail(_ context.Context, _ string, link string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links = append(o.links, link)
	return nil
}

func (o *outbox) SendPasswordResetEmail(_ context.Context, _ string, link string) error {
	return o.SendVerificationEmail(context.Background(), "", link)
}

func (o *outbox) lastToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	Expect(o.links).NotTo(BeEmpty())
	link := o.links[len(o.links)-1]
	return link[strings.LastIndex(link, "/")+1:]
}

type eventLog struct {
	mu    sync.Mutex
	kinds []ua.EventKind
}

func (l *eventLog) HandleEvent(_ context.Context, ev ua.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, ev.Kind)
	return nil
}

func (l *eventLog) seen() []ua.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ua.EventKind(nil), l.kinds...)
}

func settings(mutate ...func(*ua.Settings)) ua.Settings {
	s := ua.DefaultSettings()
	s.Session.Secret = "scenario-secret"
	s.Hasher.BcryptCost = 4
	s.Social.Enabled = true
	for _, m := range mutate {
		m(&s)
	}
	return s
}

var _ = Describe("User journeys on the filesystem store", func() {
	var (
		ctx    context.Context
		dir    string
		now    time.Time
		svc    *ua.Service
		mail   *outbox
		events *eventLog
	)

	open := func(s ua.Settings) *ua.Service {
		bus := ua.NewEventBus(nil)
		bus.Subscribe(events)
		service, err := ua.NewService(ua.Deps{
			Stores: fs.NewStores(dir),
			Events: bus,
			Mailer: mail,
			Clock:  func() time.Time { return now },
		}, s)
		Expect(err).NotTo(HaveOccurred())
		return service
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		now = time.Now()
		mail = &outbox{}
		events = &eventLog{}
		svc = open(settings())
	})

	Describe("local signup with email confirmation", func() {
		BeforeEach(func() {
			svc = open(settings(func(s *ua.Settings) { s.RequireEmailConfirmation = true }))
		})

		It("activates the account only after the emailed token is used", func() {
			_, err := svc.Register(ctx, ua.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Login(ctx, "alice", "correct-horse")
			Expect(err).To(MatchError(ua.ErrAccountInactive))

			user, err := svc.ConfirmEmail(ctx, mail.lastToken())
			Expect(err).NotTo(HaveOccurred())
			Expect(user.IsActive).To(BeTrue())
			Expect(user.EmailVerified).To(BeTrue())

			sess, err := svc.Login(ctx, "alice@example.com", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.State).To(Equal(ua.StateAuthenticated))

			Expect(svc.Logout(ctx, sess)).To(Succeed())
			Expect(events.seen()).To(Equal([]ua.EventKind{
				ua.EventBeforeRegister,
				ua.EventAfterRegister,
				ua.EventAfterLogin,
				ua.EventBeforeLogout,
				ua.EventAfterLogout,
			}))
		})
	})

	Describe("deactivated account", func() {
		It("cannot be revived through the confirmation flow", func() {
			user, err := svc.Register(ctx, ua.RegisterRequest{Username: "mallory", Email: "mallory@example.com", Password: "correct-horse"})
			Expect(err).NotTo(HaveOccurred())
			link := mail.lastToken()

			Expect(svc.Deactivate(ctx, user.ID)).To(Succeed())

			_, err = svc.ResendValidation(ctx, "mallory")
			Expect(err).To(MatchError(ua.ErrAccountInactive))
			_, err = svc.ConfirmEmail(ctx, link)
			Expect(err).To(MatchError(ua.ErrNotFound))
			_, err = svc.Login(ctx, "mallory", "correct-horse")
			Expect(err).To(MatchError(ua.ErrAccountInactive))

			Expect(svc.Activate(ctx, user.ID)).To(Succeed())
			_, err = svc.Login(ctx, "mallory", "correct-horse")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("forgotten password", func() {
		BeforeEach(func() {
			_, err := svc.Register(ctx, ua.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "correct-horse"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("resets once and rejects the reused link", func() {
			_, err := svc.RequestPasswordReset(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			token := mail.lastToken()

			Expect(svc.ResetPassword(ctx, token, "battery-staple")).To(Succeed())
			Expect(svc.ResetPassword(ctx, token, "battery-staple")).To(MatchError(ua.ErrTokenConsumed))

			_, err = svc.Login(ctx, "bob", "battery-staple")
			Expect(err).NotTo(HaveOccurred())
		})

		It("only honours the latest reset link", func() {
			first, err := svc.RequestPasswordReset(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			second, err := svc.RequestPasswordReset(ctx, "bob@example.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.ResetPassword(ctx, first, "battery-staple")).To(MatchError(ua.ErrNotFound))
			Expect(svc.ResetPassword(ctx, second, "battery-staple")).To(Succeed())
		})

		It("expires links and sweeps them", func() {
			token, err := svc.RequestPasswordReset(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(2 * time.Hour)
			Expect(svc.ResetPassword(ctx, token, "battery-staple")).To(MatchError(ua.ErrTokenExpired))
			Expect(events.seen()).To(ContainElement(ua.EventOnExpiredToken))

			swept, err := svc.Tokens().Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(BeNumerically(">=", 1))
			Expect(svc.ResetPassword(ctx, token, "battery-staple")).To(MatchError(ua.ErrNotFound))
		})
	})

	Describe("social sign-in", func() {
		It("creates one account per provider identity and survives a restart", func() {
			profile := &ua.Profile{Username: "octocat", Email: "octo@example.com", EmailVerified: true}
			first, err := svc.SocialLogin(ctx, "github", "583231", profile)
			Expect(err).NotTo(HaveOccurred())
			Expect(events.seen()).To(ContainElement(ua.EventBeforeSocialLoginUserCreate))

			restarted := open(settings())
			again, err := restarted.SocialLogin(ctx, "GitHub", "583231", profile)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.UserID).To(Equal(first.UserID))

			_, err = restarted.ValidateSession(ctx, first.Token)
			Expect(err).NotTo(HaveOccurred(), "sessions are verified by signature, not by process")
		})

		It("never hijacks a local account with the same email", func() {
			local, err := svc.Register(ctx, ua.RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "correct-horse"})
			Expect(err).NotTo(HaveOccurred())

			sess, err := svc.SocialLogin(ctx, "google", "g-7", &ua.Profile{Username: "carol", Email: "carol@example.com", EmailVerified: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.UserID).NotTo(Equal(local.ID))

			social, err := svc.GetUser(ctx, sess.UserID)
			Expect(err).NotTo(HaveOccurred())
			Expect(social.Username).To(Equal("carol1"))
			Expect(social.Email).To(BeEmpty())
		})

		It("lets a local user link and unlink a provider", func() {
			local, err := svc.Register(ctx, ua.RegisterRequest{Username: "dave", Password: "correct-horse"})
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.LinkSocialAccount(ctx, local.ID, "github", "99", nil)).To(Succeed())
			Expect(svc.LinkSocialAccount(ctx, local.ID, "github", "100", nil)).To(MatchError(ua.ErrProviderAlreadyLinked))

			sess, err := svc.SocialLogin(ctx, "github", "99", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.UserID).To(Equal(local.ID))

			Expect(svc.UnlinkSocialAccount(ctx, local.ID, "github")).To(Succeed())
			providers, err := svc.Linker().ListForUser(ctx, local.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(providers).To(BeEmpty())
		})
	})

	Describe("administrative commands", func() {
		It("creates a superuser that can sign in", func() {
			created, err := ua.CreateSuperuser(ctx, svc, "", "super-secret-pw")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.User.IsSuperuser).To(BeTrue())

			_, err = ua.CreateSuperuser(ctx, svc, "", "super-secret-pw")
			Expect(ua.ExitCode(err)).To(Equal(ua.ExitDuplicateUsername))

			_, err = svc.Login(ctx, ua.DefaultSuperuserUsername, "super-secret-pw")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
