package core

import (
	"encoding/json"
	"fmt"

	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

// ResourceKind names the kind of a cloud resource.
type ResourceKind string

// Supported resource kinds.
const (
	KindKubernetesNamespace   ResourceKind = "k8s_namespace"
	KindPersistentVolumeClaim ResourceKind = "k8s_pvc"
	KindAzureContainer        ResourceKind = "azure_container"
	KindKafkaTopic            ResourceKind = "kafka_topic"
)

// Valid reports whether k is a supported kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindKubernetesNamespace, KindPersistentVolumeClaim, KindAzureContainer, KindKafkaTopic:
		return true
	}
	return false
}

var identityJSON = jsoniter.ConfigCompatibleWithStandardLibrary

var identityValidator = validator.New()

// ResourceIdentity identifies a cloud resource. The set of implementations is closed.
type ResourceIdentity interface {
	// Kind returns the kind discriminator of the identity.
	Kind() ResourceKind
	isResourceIdentity()
}

// KubernetesNamespace is a namespace in the configured cluster.
type KubernetesNamespace struct {
	Namespace string `json:"namespace" validate:"required"`
}

// PersistentVolumeClaim is a volume claim in the configured cluster.
type PersistentVolumeClaim struct {
	Namespace string `json:"namespace" validate:"required"`
	Name      string `json:"name" validate:"required"`
}

// AzureContainer is a blob container of a storage account.
type AzureContainer struct {
	StorageAccount string `json:"storage_account" validate:"required"`
	Container      string `json:"container" validate:"required"`
}

// KafkaTopic is a topic of the configured kafka cluster.
type KafkaTopic struct {
	Topic string `json:"topic" validate:"required"`
}

// Kind implements ResourceIdentity.
func (KubernetesNamespace) Kind() ResourceKind { return KindKubernetesNamespace }

// Kind implements ResourceIdentity.
func (PersistentVolumeClaim) Kind() ResourceKind { return KindPersistentVolumeClaim }

// Kind implements ResourceIdentity.
func (AzureContainer) Kind() ResourceKind { return KindAzureContainer }

// Kind implements ResourceIdentity.
func (KafkaTopic) Kind() ResourceKind { return KindKafkaTopic }

func (KubernetesNamespace) isResourceIdentity()   {}
func (PersistentVolumeClaim) isResourceIdentity() {}
func (AzureContainer) isResourceIdentity()        {}
func (KafkaTopic) isResourceIdentity()            {}

// MarshalIdentity encodes the identity fields without the kind.
func MarshalIdentity(identity ResourceIdentity) ([]byte, error) {
	if identity == nil {
		return nil, errs.ErrUnknownResourceKind
	}
	return identityJSON.Marshal(identity)
}

// UnmarshalIdentity decodes identity fields of the given kind and validates them.
func UnmarshalIdentity(kind ResourceKind, raw []byte) (ResourceIdentity, error) {
	var identity ResourceIdentity
	switch kind {
	case KindKubernetesNamespace:
		v := KubernetesNamespace{}
		if err := identityJSON.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		identity = v
	case KindPersistentVolumeClaim:
		v := PersistentVolumeClaim{}
		if err := identityJSON.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		identity = v
	case KindAzureContainer:
		v := AzureContainer{}
		if err := identityJSON.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		identity = v
	case KindKafkaTopic:
		v := KafkaTopic{}
		if err := identityJSON.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		identity = v
	default:
		return nil, errs.ErrUnknownResourceKind
	}
	if err := identityValidator.Struct(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// IdentityKey returns the canonical comparable key of an identity.
// Two identities are equal iff their keys are equal.
func IdentityKey(identity ResourceIdentity) (string, error) {
	raw, err := MarshalIdentity(identity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", identity.Kind(), raw), nil
}

// IdentityEnvelope is the wire form of an identity: the kind discriminator and its fields.
type IdentityEnvelope struct {
	Kind  ResourceKind    `json:"kind" binding:"required,resource_kind"`
	Value json.RawMessage `json:"value" binding:"required"`
}

// NewIdentityEnvelope wraps an identity for the wire.
func NewIdentityEnvelope(identity ResourceIdentity) (*IdentityEnvelope, error) {
	raw, err := MarshalIdentity(identity)
	if err != nil {
		return nil, err
	}
	return &IdentityEnvelope{Kind: identity.Kind(), Value: raw}, nil
}

// Identity decodes the wrapped identity.
func (e *IdentityEnvelope) Identity() (ResourceIdentity, error) {
	return UnmarshalIdentity(e.Kind, e.Value)
}
