package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/model"
)

// ErrClosed はClose済みのServiceに対する待機を表す。
var ErrClosed = errors.New("auth service closed")

// 通知メッセージ
const (
	msgRegistered    = "Registration successful! Please verify your email."
	msgLoggedOut     = "Logged out successfully"
	msgProfileUpdate = "Profile updated successfully"
)

// eventBuffer はバックエンドからのセッション変更イベントをためておく数。
const eventBuffer = 32

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// EmailRedirectURL はメール確認リンクの遷移先。
	EmailRedirectURL string
}

// Service はセッション状態を保持し、ログイン・登録・ログアウト・プロフィール更新を提供する。
// 状態の書き込みはapplyに集約し、書き込みのたびに購読者へ最新のスナップショットを配信する。
type Service struct {
	backend  Backend
	profiles ProfileProvider
	notifier Notifier
	recorder metrics.Recorder
	config   ServiceConfig

	mu      sync.Mutex
	state   State
	pending int // 実行中の操作数
	subs    map[int]chan State
	nextSub int
	started bool
	closed  bool

	events      chan *model.Session
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewService はServiceを生成する。Startを呼ぶまではInitializingのまま。
func NewService(
	backend Backend,
	profiles ProfileProvider,
	notifier Notifier,
	recorder metrics.Recorder,
	config ServiceConfig,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		backend:  backend,
		profiles: profiles,
		notifier: notifier,
		recorder: recorder,
		config:   config,
		state:    State{IsLoading: true},
		subs:     make(map[int]chan State),
		events:   make(chan *model.Session, eventBuffer),
		done:     make(chan struct{}),
	}
}

// Start は既存セッションを確認して状態を確定させ、以降のセッション変更イベントの購読を開始する。
// セッション確認やプロフィール準備に失敗しても状態はResolvedになる。
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("auth service already started")
	}
	s.started = true
	s.mu.Unlock()

	sess, err := s.backend.GetSession(ctx)
	if err != nil {
		slog.Error("セッションの確認に失敗しました", slog.String("error", err.Error()))
		sess = nil
	}
	s.resolve(ctx, sess)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(loopCtx)
	unsubscribe := s.backend.SubscribeSessionChanges(s.enqueue)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// Close はセッション変更の購読を解除し、購読者のチャネルを閉じる。
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe, cancel := s.unsubscribe, s.cancel
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
		<-s.done
	}
}

// enqueue はバックエンドのコールバックから呼ばれ、イベントを処理ループへ渡す。
func (s *Service) enqueue(sess *model.Session) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- sess:
	case <-s.done:
	}
}

// run はセッション変更イベントを受け取った順に1つずつ処理する。
func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sess := <-s.events:
			s.resolve(ctx, sess)
		}
	}
}

// resolve はセッションからIdentityとプロフィールを確定させる。
func (s *Service) resolve(ctx context.Context, sess *model.Session) {
	if sess == nil || sess.Identity == nil {
		s.apply(func(st *State) {
			st.Identity = nil
			st.Profile = nil
			st.Resolved = true
		})
		return
	}

	p := s.profiles.EnsureProfile(ctx, sess.Identity, "")
	s.apply(func(st *State) {
		st.Identity = sess.Identity
		st.Profile = p
		st.Resolved = true
	})
}

// apply は状態を更新し、購読者に配信する。状態の書き込みはすべてここを通る。
func (s *Service) apply(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	s.state.IsLoading = !s.state.Resolved || s.pending > 0
	snapshot := s.state

	for _, ch := range s.subs {
		// 最新の値だけを残す
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (s *Service) begin() {
	s.apply(func(*State) { s.pending++ })
}

func (s *Service) end() {
	s.apply(func(*State) { s.pending-- })
}

// State は現在の状態のスナップショットを返す。
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe は状態の購読を開始する。チャネルには直後に現在の状態が1つ入り、
// 以降は変更のたびに最新の状態に置き換わる。戻り値の関数で購読を解除する。
func (s *Service) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// WaitSettled は起動時の確認と実行中の操作が終わるまで待ち、その時点の状態を返す。
func (s *Service) WaitSettled(ctx context.Context) (State, error) {
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return s.State(), ErrClosed
			}
			if st.Settled() {
				return st, nil
			}
		case <-ctx.Done():
			return s.State(), ctx.Err()
		}
	}
}

// Login はメールアドレスとパスワードでログインし、プロフィールを準備する。
// 失敗時は状態を変えず、ユーザーの有無とパスワード誤りを区別しないエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Profile, error) {
	s.begin()
	defer s.end()

	identity, err := s.backend.SignIn(ctx, email, password)
	if err != nil || identity == nil {
		if err != nil {
			slog.Warn("ログインに失敗しました", slog.String("error", err.Error()))
		}
		s.recorder.RecordLogin(metrics.OutcomeFailure)
		apiErr := model.NewInvalidCredentialsError()
		s.notifier.Error(apiErr.Message)
		return nil, apiErr
	}

	p := s.profiles.EnsureProfile(ctx, identity, "")
	s.apply(func(st *State) {
		st.Identity = identity
		st.Profile = p
		st.Resolved = true
	})

	slog.Info("ログインしました", slog.String("user_id", identity.ID))
	s.recorder.RecordLogin(metrics.OutcomeSuccess)
	s.notifier.Success(welcomeMessage(p))
	return p, nil
}

func welcomeMessage(p *model.Profile) string {
	name := "User"
	if p != nil && p.Name != "" {
		name = p.Name
	}
	return fmt.Sprintf("Welcome back, %s!", name)
}

// Register はユーザーを登録し、メール確認前でもプロフィールを作成する。
// Identityはバックエンドのセッション変更イベントで設定される。
func (s *Service) Register(ctx context.Context, email, password, name string) (*model.Profile, error) {
	s.begin()
	defer s.end()

	identity, err := s.backend.SignUp(ctx, email, password, SignUpOptions{
		RedirectTo: s.config.EmailRedirectURL,
		Metadata:   map[string]string{"name": name},
	})
	if err != nil || identity == nil {
		msg := ""
		if err != nil {
			slog.Warn("ユーザー登録に失敗しました", slog.String("error", err.Error()))
			msg = backendMessage(err)
		}
		s.recorder.RecordRegistration(metrics.OutcomeFailure)
		apiErr := model.NewRegistrationFailedError(msg)
		s.notifier.Error(apiErr.Message)
		return nil, apiErr
	}

	p := s.profiles.EnsureProfile(ctx, identity, name)
	s.apply(func(st *State) {
		// ログイン中の別ユーザーのプロフィールは置き換えない
		if st.Identity == nil || st.Identity.ID == identity.ID {
			st.Profile = p
		}
	})

	slog.Info("ユーザーを登録しました", slog.String("user_id", identity.ID))
	s.recorder.RecordRegistration(metrics.OutcomeSuccess)
	s.notifier.Success(msgRegistered)
	return p, nil
}

// Logout はバックエンドのセッションを終了し、IdentityとProfileを消去する。
// バックエンドが失敗した場合は状態を変えずにエラーを返す。
func (s *Service) Logout(ctx context.Context) error {
	s.begin()
	defer s.end()

	if err := s.backend.SignOut(ctx); err != nil {
		slog.Error("ログアウトに失敗しました", slog.String("error", err.Error()))
		s.recorder.RecordLogout(metrics.OutcomeFailure)
		apiErr := model.NewLogoutFailedError()
		s.notifier.Error(apiErr.Message)
		return apiErr
	}

	s.apply(func(st *State) {
		st.Identity = nil
		st.Profile = nil
	})

	s.recorder.RecordLogout(metrics.OutcomeSuccess)
	s.notifier.Success(msgLoggedOut)
	return nil
}

// RefreshProfile は現在のIdentityのプロフィールを読み直す。
// Identityが無い場合や読み直せなかった場合は何もしない。
func (s *Service) RefreshProfile(ctx context.Context) {
	s.begin()
	defer s.end()
	s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) {
	identity := s.State().Identity
	if identity == nil {
		return
	}

	p := s.profiles.FetchProfile(ctx, identity.ID)
	if p == nil {
		return
	}

	s.apply(func(st *State) {
		// 読み直しの間に別ユーザーへ切り替わっていたら捨てる
		if st.Identity != nil && st.Identity.ID == identity.ID {
			st.Profile = p
		}
	})
}

// UpdateProfile はpatchに含まれるフィールドを保存し、保存後の内容を読み直す。
// ログインしていない場合はErrNotAuthenticatedを返す。
func (s *Service) UpdateProfile(ctx context.Context, patch model.ProfilePatch) error {
	identity := s.State().Identity
	if identity == nil {
		return ErrNotAuthenticated
	}

	s.begin()
	defer s.end()

	if err := s.profiles.UpdateProfile(ctx, identity.ID, patch); err != nil {
		slog.Error("プロフィールの更新に失敗しました",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		apiErr := model.NewProfileUpdateFailedError("")
		s.notifier.Error(apiErr.Message)
		return fmt.Errorf("%w: %w", apiErr, err)
	}

	s.refresh(ctx)
	s.notifier.Success(msgProfileUpdate)
	return nil
}

// HasPurchasedCourse は現在のプロフィールで指定コースを購入済みかどうかを返す。
func (s *Service) HasPurchasedCourse(courseID string) bool {
	return s.State().HasPurchasedCourse(courseID)
}
