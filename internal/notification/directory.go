package notification

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/nao1215/beatnotify/pkg/httpclient"
)

// RemoteDirectory はアカウントサービスに問い合わせてユーザーの存在を確認する。
type RemoteDirectory struct {
	client *httpclient.Client
}

// NewRemoteDirectory はアカウントサービスのクライアントからDirectoryを生成する。
func NewRemoteDirectory(client *httpclient.Client) *RemoteDirectory {
	return &RemoteDirectory{client: client}
}

// UserExists は GET /api/v1/users/:id の結果を返す。
// 200ならtrue、404ならfalse、それ以外はエラーになる。
func (d *RemoteDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	err := d.client.GetJSON(ctx, "/api/v1/users/"+url.PathEscape(userID), nil)
	if err == nil {
		return true, nil
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
