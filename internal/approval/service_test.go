package approval

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceapproval/internal/audit"
	"faceapproval/internal/store"
)

var accessCodeRe = regexp.MustCompile(`^[0-9A-F]{12}$`)
var sessionIDRe = regexp.MustCompile(`^#DB[0-9A-F]{16}$`)

func newTestService(t *testing.T, fallback bool) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return NewService(st, audit.New(st), nil, fallback), st
}

func facePayload(seed string) string {
	return strings.Repeat(seed, 200/len(seed))
}

func TestCaptureRejectsSmallPayload(t *testing.T) {
	svc, _ := newTestService(t, true)
	err := svc.Capture(context.Background(), "tok", strings.Repeat("a", 50))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Invalid face data - image too small or empty", ve.Message)
}

func TestRegisterGeneratesAccessCode(t *testing.T) {
	svc, _ := newTestService(t, true)
	code, err := svc.Register(context.Background(), "tok", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)
	assert.Regexp(t, accessCodeRe, code)
}

func TestRegisterDuplicateNameConflicts(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, "tok2", "Ana", "5B", "99", facePayload("b"))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, `"Ana"`)

	// First registration untouched.
	reg, err := st.GetRegistration(ctx, "Ana")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "5A", reg.Class)
}

func TestRegisterRequiresAllFields(t *testing.T) {
	svc, _ := newTestService(t, true)
	for _, tc := range []struct{ name, class, roll string }{
		{"", "5A", "12"},
		{"Ana", "  ", "12"},
		{"Ana", "5A", ""},
	} {
		_, err := svc.Register(context.Background(), "tok", tc.name, tc.class, tc.roll, facePayload("a"))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "All fields are required (name, class, roll)", ve.Message)
	}
}

func TestRegisterUsesPriorCapture(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()
	require.NoError(t, svc.Capture(ctx, "tok", facePayload("a")))

	code, err := svc.Register(ctx, "tok", "Ana", "5A", "12", "")
	require.NoError(t, err)
	assert.Regexp(t, accessCodeRe, code)

	// Capture consumed on success.
	tc, err := st.GetCapture(ctx, "tok")
	require.NoError(t, err)
	if tc != nil {
		assert.Empty(t, tc.FaceImage)
	}
}

func TestRegisterWithoutAnyPayload(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Register(context.Background(), "tok", "Ana", "5A", "12", "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "No face captured. Please capture your face first using the camera.", ve.Message)
}

func TestApproveMatchStartsSession(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", payload)
	require.NoError(t, err)

	res, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)
	assert.Regexp(t, sessionIDRe, res.SessionID)
	assert.Equal(t, "Ana", res.Name)
	assert.Equal(t, "5A", res.Class)
	assert.Equal(t, "12", res.Roll)
	assert.False(t, res.AlreadyActive)
}

func TestApproveIsIdempotentPerRegistrant(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", payload)
	require.NoError(t, err)

	first, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)
	second, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, second.AlreadyActive)
}

func TestApproveWithoutRegistrations(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Approve(context.Background(), "tok", facePayload("a"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "No registered users found. Please register first.", ve.Message)
}

func TestApproveFallbackPicksFirstRegistrant(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.Register(ctx, "t1", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, "t2", "Bo", "5B", "13", facePayload("b"))
	require.NoError(t, err)

	res, err := svc.Approve(ctx, "tok", facePayload("zz"))
	require.NoError(t, err)
	assert.Equal(t, "Ana", res.Name)
}

func TestApproveWithoutFallbackRejectsUnknownFace(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()
	_, err := svc.Register(ctx, "t1", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "tok", facePayload("zz"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Face not recognized. Please register first.", ve.Message)
}

func TestApproveRejectsSmallPayload(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Approve(context.Background(), "tok", strings.Repeat("a", 50))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "No face captured. Please position your face in the camera.", ve.Message)
}

func TestEndSessionTwice(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", payload)
	require.NoError(t, err)
	res, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(ctx, res.SessionID))

	err = svc.EndSession(ctx, res.SessionID)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "Session not found", nfe.Message)
}

func TestEditRenameCascadesToSession(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", payload)
	require.NoError(t, err)
	res, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)

	require.NoError(t, svc.Edit(ctx, "Ana", "Ana Maria", "6C", "15"))

	reg, err := st.GetRegistration(ctx, "Ana Maria")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "6C", reg.Class)

	sess, err := st.GetSessionByID(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "Ana Maria", sess.Name)
}

func TestEditToExistingNameRejectedWithoutMutation(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.Register(ctx, "t1", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, "t2", "Bo", "5B", "13", facePayload("b"))
	require.NoError(t, err)

	err = svc.Edit(ctx, "Ana", "Bo", "9Z", "99")
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)

	ana, err := st.GetRegistration(ctx, "Ana")
	require.NoError(t, err)
	require.NotNil(t, ana)
	assert.Equal(t, "5A", ana.Class)
	bo, err := st.GetRegistration(ctx, "Bo")
	require.NoError(t, err)
	require.NotNil(t, bo)
	assert.Equal(t, "5B", bo.Class)
}

func TestEditUnknownUser(t *testing.T) {
	svc, _ := newTestService(t, true)
	err := svc.Edit(context.Background(), "ghost", "phantom", "1A", "1")
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "User 'ghost' not found", nfe.Message)
}

func TestEditRejectsBlankName(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Register(context.Background(), "tok", "Ana", "5A", "12", facePayload("a"))
	require.NoError(t, err)

	err = svc.Edit(context.Background(), "Ana", "   ", "5A", "12")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestDeleteCascadesSession(t *testing.T) {
	svc, st := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "tok", "Ana", "5A", "12", payload)
	require.NoError(t, err)
	res, err := svc.Approve(ctx, "tok", payload)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "Ana"))

	reg, err := st.GetRegistration(ctx, "Ana")
	require.NoError(t, err)
	assert.Nil(t, reg)
	sess, err := st.GetSessionByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)

	err = svc.Delete(ctx, "Ana")
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestDashboardJoinsSessionsOntoUsers(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	payload := facePayload("a")
	_, err := svc.Register(ctx, "t1", "Ana", "5A", "12", payload)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "t2", "Bo", "5B", "13", facePayload("b"))
	require.NoError(t, err)
	res, err := svc.Approve(ctx, "t1", payload)
	require.NoError(t, err)

	data := svc.Dashboard(ctx)
	assert.Empty(t, data.Error)
	assert.Equal(t, []string{"Ana", "Bo"}, data.Members)
	require.Len(t, data.Sessions, 1)
	assert.Equal(t, res.SessionID, data.Sessions[0].SessionID)
	require.Len(t, data.Users, 2)

	assert.True(t, data.Users[0].HasActiveSession)
	assert.Equal(t, res.SessionID, data.Users[0].SessionID)
	assert.False(t, data.Users[1].HasActiveSession)
	assert.Equal(t, "No active session", data.Users[1].SessionID)
	assert.NotEmpty(t, data.Logs)
}
