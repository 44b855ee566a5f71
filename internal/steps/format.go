package steps

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/transform"
)

const (
	defaultXMLRoot   = "request"
	defaultXMLTarget = "request_xml"
	soapEnvNS        = "http://schemas.xmlsoap.org/soap/envelope/"
)

// FormatTransformHandler — шаг format_transform.
//
// json: выбирает поддерево (source_path), опционально перестраивает его
// через fields и кладёт в target_path либо заменяет им документ.
// xml: сериализует поддерево в XML (опционально в SOAP envelope) и кладёт
// строку в target_path.
type FormatTransformHandler struct {
	engine *transform.Engine
}

// NewFormatTransformHandler создаёт FormatTransformHandler.
func NewFormatTransformHandler(eng *transform.Engine) *FormatTransformHandler {
	if eng == nil {
		eng = transform.New(nil)
	}
	return &FormatTransformHandler{engine: eng}
}

// Type возвращает тип шага.
func (h *FormatTransformHandler) Type() domain.StepType {
	return domain.StepFormatTransform
}

// Execute преобразует документ.
func (h *FormatTransformHandler) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.FormatTransformConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	selected := any(req.Doc)
	if cfg.SourcePath != "" {
		v, found := engine.Get(req.Doc, cfg.SourcePath)
		if !found {
			return nil, domain.NewTransformError(cfg.SourcePath, "source path not found")
		}
		selected = engine.CloneValue(v)
	}

	if len(cfg.Fields) > 0 {
		src, ok := selected.(map[string]any)
		if !ok {
			return nil, domain.NewTransformError(cfg.SourcePath, fmt.Sprintf("fields need an object source, got %T", selected))
		}
		shaped := make(map[string]any)
		if _, err := h.engine.ApplyMappings(cfg.Fields, src, shaped); err != nil {
			return nil, err
		}
		selected = shaped
	}

	switch cfg.Format {
	case "xml":
		root := cfg.RootElement
		if root == "" {
			root = defaultXMLRoot
		}
		data, err := EncodeXML(root, selected, cfg.Envelope)
		if err != nil {
			return nil, domain.NewStepError(domain.KindTransform, cfg.SourcePath, "encode xml", err)
		}
		target := cfg.TargetPath
		if target == "" {
			target = defaultXMLTarget
		}
		if err := engine.Set(req.Doc, target, string(data)); err != nil {
			return nil, domain.NewTransformError(target, err.Error())
		}
		return NewResponse(req.Doc, map[string]any{"format": "xml", "target_path": target, "bytes": len(data)}), nil

	default:
		if cfg.TargetPath != "" {
			if err := engine.Set(req.Doc, cfg.TargetPath, selected); err != nil {
				return nil, domain.NewTransformError(cfg.TargetPath, err.Error())
			}
			return NewResponse(req.Doc, map[string]any{"format": "json", "target_path": cfg.TargetPath}), nil
		}
		doc, ok := selected.(map[string]any)
		if !ok {
			return nil, domain.NewTransformError(cfg.SourcePath, fmt.Sprintf("replacing the document needs an object, got %T", selected))
		}
		return NewResponse(doc, map[string]any{"format": "json", "fields": len(doc)}), nil
	}
}

// EncodeXML сериализует значение в XML с корневым элементом root.
//
// Ключи объектов становятся элементами в алфавитном порядке, массивы —
// повторяющимися элементами. envelope оборачивает результат в SOAP Envelope/Body.
func EncodeXML(root string, value any, envelope bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	if envelope {
		env := xml.StartElement{
			Name: xml.Name{Local: "soapenv:Envelope"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns:soapenv"}, Value: soapEnvNS}},
		}
		body := xml.StartElement{Name: xml.Name{Local: "soapenv:Body"}}
		if err := enc.EncodeToken(env); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(body); err != nil {
			return nil, err
		}
		if err := encodeElement(enc, root, value); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(body.End()); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(env.End()); err != nil {
			return nil, err
		}
	} else if err := encodeElement(enc, root, value); err != nil {
		return nil, err
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeElement(enc *xml.Encoder, name string, value any) error {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if err := encodeElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeElement(enc, k, v[k]); err != nil {
				return err
			}
		}
	default:
		if err := enc.EncodeToken(xml.CharData(engine.ToString(v))); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}
