package event

import (
	"encoding/json"
	"fmt"
)

// Envelope はイベントをJSONで受け渡すための外形。
// 内部APIとKafkaトピックの両方で同じ形式を使う。
type Envelope struct {
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// Encode はイベントをEnvelope形式のJSONにシリアライズする。
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return json.Marshal(Envelope{Type: e.Type(), Data: data})
}

// Decode はEnvelope形式のJSONをイベントにデシリアライズする。
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("Envelopeのデシリアライズに失敗: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope はEnvelopeのDataを種類に応じたバリアントにデシリアライズし、検証する。
func DecodeEnvelope(env Envelope) (Event, error) {
	var (
		e   Event
		err error
	)
	switch env.Type {
	case TypeMessageSent:
		e, err = DecodeData[MessageSent](env.Data)
	case TypePurchaseCompleted:
		e, err = DecodeData[PurchaseCompleted](env.Data)
	case TypeVerificationStatusChanged:
		e, err = DecodeData[VerificationStatusChanged](env.Data)
	case TypeUserFollowed:
		e, err = DecodeData[UserFollowed](env.Data)
	case TypeProjectUpdated:
		e, err = DecodeData[ProjectUpdated](env.Data)
	case "":
		return nil, fmt.Errorf("type: %w", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%sの検証に失敗: %w", env.Type, err)
	}
	return e, nil
}

// DecodeData はJSONデータを指定されたバリアント型にデシリアライズする。
func DecodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("data: %w", ErrMissingField)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return v, nil
}
