package core

// ValidKindMUS decodes a Kind like KindMUS and rejects values that name no
// known kind.
var ValidKindMUS = validKindMUS{kindMUS: KindMUS}

type validKindMUS struct {
	kindMUS
}

func (s validKindMUS) Unmarshal(bs []byte) (v Kind, n int, err error) {
	v, n, err = s.kindMUS.Unmarshal(bs)
	if err == nil && v != KindQuestion && v != KindAnswer {
		err = ErrInvalidKind
	}
	return
}
