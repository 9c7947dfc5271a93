package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/model"
	pkgerrors "meeting-intelligence/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/transcribeservice"
)

// Client is the speech-to-text boundary. Submission is fire-and-forget; the
// pipeline polls JobStatus via delayed self-delivered events.
type Client interface {
	Submit(ctx context.Context, jobName, mediaURI, outputBucket, outputPrefix string) error
	JobStatus(ctx context.Context, jobName string) (*JobResult, error)
}

type JobResult struct {
	Status        model.TranscriptionJobStatus
	TranscriptURI string
	FailureReason string
}

type AWSClient struct {
	svc *transcribeservice.TranscribeService
	cfg config.TranscribeConfig
}

func NewClient(cfg *config.Config) (*AWSClient, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Transcribe.Region)})
	if err != nil {
		return nil, err
	}
	return &AWSClient{
		svc: transcribeservice.New(sess),
		cfg: cfg.Transcribe,
	}, nil
}

func (c *AWSClient) Submit(ctx context.Context, jobName, mediaURI, outputBucket, outputPrefix string) error {
	input := &transcribeservice.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		LanguageCode:         aws.String(c.cfg.LanguageCode),
		MediaFormat:          aws.String(MediaFormat(mediaURI)),
		Media: &transcribeservice.Media{
			MediaFileUri: aws.String(mediaURI),
		},
		OutputBucketName: aws.String(outputBucket),
		OutputKey:        aws.String(outputPrefix),
		Settings: &transcribeservice.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int64(c.cfg.MaxSpeakers),
		},
	}

	_, err := c.svc.StartTranscriptionJobWithContext(ctx, input)
	if err != nil {
		return classify("transcribe", err)
	}
	return nil
}

func (c *AWSClient) JobStatus(ctx context.Context, jobName string) (*JobResult, error) {
	out, err := c.svc.GetTranscriptionJobWithContext(ctx, &transcribeservice.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, classify("transcribe", err)
	}

	job := out.TranscriptionJob
	result := &JobResult{
		Status:        model.TranscriptionJobStatus(aws.StringValue(job.TranscriptionJobStatus)),
		FailureReason: aws.StringValue(job.FailureReason),
	}
	if job.Transcript != nil {
		result.TranscriptURI = aws.StringValue(job.Transcript.TranscriptFileUri)
	}
	return result, nil
}

func classify(provider string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "ThrottlingException", transcribeservice.ErrCodeLimitExceededException:
			return pkgerrors.NewThrottled(provider, err)
		case transcribeservice.ErrCodeBadRequestException, "AccessDeniedException":
			return pkgerrors.NewRejected(provider, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.NewTimeout(provider, err)
	}
	return pkgerrors.NewUnavailable(provider, err)
}

// MediaFormat maps a file name or URI to a Transcribe media format, mp3 as
// the fallback.
func MediaFormat(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "mp3", "mp4", "wav", "flac", "ogg", "amr", "webm":
		return ext
	case "m4a":
		return "mp4"
	default:
		return "mp3"
	}
}

// JobName derives the deterministic transcription job name for a meeting.
func JobName(meetingID string, timestamp int64) string {
	return fmt.Sprintf("meeting-transcription-%s-%d", meetingID, timestamp)
}
