package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/securotron/internal/task"
	"github.com/phrazzld/securotron/internal/task/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisableAccountTask_Validation(t *testing.T) {
	logger := newTestLogger()
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice")}
	directory := &mocks.Directory{}
	queue := &mocks.MessageQueue{}

	testCases := []struct {
		name      string
		msg       task.Message
		directory task.Directory
		deleter   task.MessageDeleter
		expected  error
	}{
		{"nil directory", msg, nil, queue, task.ErrNilDirectory},
		{"nil deleter", msg, directory, nil, task.ErrNilMessageDeleter},
		{"empty message id", task.Message{Body: msg.Body}, directory, queue, task.ErrEmptyMessageID},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			created, err := task.NewDisableAccountTask(tc.msg, task.EncodingBase64, tc.directory, tc.deleter, logger)
			assert.ErrorIs(t, err, tc.expected)
			assert.Nil(t, created)
		})
	}

	_, err := task.NewDisableAccountTask(msg, task.EncodingBase64, directory, queue, nil)
	assert.ErrorIs(t, err, task.ErrNilLogger)
}

func TestDisableAccountTask_Identity(t *testing.T) {
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice")}
	created, err := task.NewDisableAccountTask(msg, "", &mocks.Directory{}, &mocks.MessageQueue{}, newTestLogger())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID())
	assert.Equal(t, task.TaskTypeDisableAccount, created.Type())
	assert.Equal(t, msg, created.Message())
}

func TestDisableAccountTask_Execute_Success(t *testing.T) {
	directory := &mocks.Directory{}
	queue := &mocks.MessageQueue{}
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice\n")}

	created, err := task.NewDisableAccountTask(msg, task.EncodingBase64, directory, queue, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, created.Execute(context.Background()))
	assert.Equal(t, []string{"alice"}, directory.Calls())
	assert.Equal(t, []mocks.DeleteCall{{ID: "m1", PopReceipt: "r1"}}, queue.DeleteCalls())
}

func TestDisableAccountTask_Execute_DirectoryFailure(t *testing.T) {
	dirErr := errors.New("ldap: server down")
	directory := &mocks.Directory{
		DisableUserFn: func(ctx context.Context, username string) error { return dirErr },
	}
	queue := &mocks.MessageQueue{}
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice")}

	created, err := task.NewDisableAccountTask(msg, task.EncodingBase64, directory, queue, newTestLogger())
	require.NoError(t, err)

	err = created.Execute(context.Background())
	assert.ErrorIs(t, err, dirErr)
	assert.Empty(t, queue.DeleteCalls(), "message must stay on the queue when the directory call fails")
}

func TestDisableAccountTask_Execute_DeleteFailure(t *testing.T) {
	delErr := errors.New("pop receipt mismatch")
	queue := &mocks.MessageQueue{
		DeleteMessageFn: func(ctx context.Context, id, popReceipt string) error { return delErr },
	}
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice")}

	created, err := task.NewDisableAccountTask(msg, task.EncodingBase64, &mocks.Directory{}, queue, newTestLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, created.Execute(context.Background()), delErr)
}

func TestDisableAccountTask_Execute_InvalidPayload(t *testing.T) {
	directory := &mocks.Directory{}
	queue := &mocks.MessageQueue{}
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: []byte("not base64!")}

	created, err := task.NewDisableAccountTask(msg, task.EncodingBase64, directory, queue, newTestLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, created.Execute(context.Background()), task.ErrInvalidPayload)
	assert.Empty(t, directory.Calls())
	assert.Empty(t, queue.DeleteCalls())
}

func TestDisableAccountTask_Execute_Canceled(t *testing.T) {
	directory := &mocks.Directory{}
	msg := task.Message{ID: "m1", PopReceipt: "r1", Body: encode("alice")}
	created, err := task.NewDisableAccountTask(msg, task.EncodingBase64, directory, &mocks.MessageQueue{}, newTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, created.Execute(ctx), context.Canceled)
	assert.Empty(t, directory.Calls())
}

func TestDecodeUsername(t *testing.T) {
	testCases := []struct {
		name     string
		body     []byte
		encoding task.MessageEncoding
		expected string
		wantErr  bool
	}{
		{"base64", encode("alice"), task.EncodingBase64, "alice", false},
		{"base64 default", encode("bob"), "", "bob", false},
		{"base64 with padding whitespace", []byte("  " + string(encode(" carol ")) + "\n"), task.EncodingBase64, "carol", false},
		{"text", []byte("dave\r\n"), task.EncodingText, "dave", false},
		{"invalid base64", []byte("%%%"), task.EncodingBase64, "", true},
		{"empty text", []byte("   "), task.EncodingText, "", true},
		{"empty decoded", encode("  "), task.EncodingBase64, "", true},
		{"unknown encoding", []byte("eve"), task.MessageEncoding("rot13"), "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := task.DecodeUsername(tc.body, tc.encoding)
			if tc.wantErr {
				assert.ErrorIs(t, err, task.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestEncodeUsername(t *testing.T) {
	body, err := task.EncodeUsername(" alice ", task.EncodingBase64)
	require.NoError(t, err)
	assert.Equal(t, encode("alice"), body)

	body, err = task.EncodeUsername("bob", task.EncodingText)
	require.NoError(t, err)
	assert.Equal(t, []byte("bob"), body)

	for _, encoding := range []task.MessageEncoding{task.EncodingBase64, task.EncodingText} {
		body, err := task.EncodeUsername("carol", encoding)
		require.NoError(t, err)
		decoded, err := task.DecodeUsername(body, encoding)
		require.NoError(t, err)
		assert.Equal(t, "carol", decoded)
	}

	_, err = task.EncodeUsername("  ", task.EncodingText)
	assert.ErrorIs(t, err, task.ErrInvalidPayload)

	_, err = task.EncodeUsername("dave", task.MessageEncoding("rot13"))
	assert.ErrorIs(t, err, task.ErrInvalidPayload)
}
