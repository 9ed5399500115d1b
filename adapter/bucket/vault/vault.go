package vault

import (
	"bytes"
	"errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/glacier"
)

// vault archives downloaded filing bundles (e.g. the xbrl zip files) to
// AWS Glacier for cold storage. Archives are write only from here,
// retrieval goes through a Glacier job outside this tool.
type vault struct {
	name   string
	client *glacier.Glacier
}

func New(awsSession *session.Session, name string) *vault {
	return &vault{client: glacier.New(awsSession), name: name}
}

func (v *vault) GetObject(key string) ([]byte, error) {
	return nil, errors.New("Glacier retrieval requires an archive job")
}

func (v *vault) PutObject(key string, data []byte) error {
	input := &glacier.UploadArchiveInput{
		AccountId:          aws.String("-"),
		VaultName:          aws.String(v.name),
		ArchiveDescription: aws.String(key),
		Body:               bytes.NewReader(data),
	}
	_, err := v.client.UploadArchive(input)
	if err != nil {
		return err
	}
	return nil
}

func (v *vault) Walk(fn func(key string) error) error {
	// inventory listing is an asynchronous Glacier job, nothing to walk
	return nil
}
