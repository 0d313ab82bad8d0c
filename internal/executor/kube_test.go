package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/polarfoxDev/wharf/internal/labels"
)

func pod(name, token, member string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "sites",
			Labels:    map[string]string{labels.LMember: member, labels.LToken: token},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func TestKube_FindContainer(t *testing.T) {
	k := &Kube{Clientset: fake.NewSimpleClientset(
		pod("blog-db-0", "blog", labels.MemberDB, corev1.PodRunning),
		pod("blog-old", "blog", labels.MemberApp, corev1.PodFailed),
		pod("blog-0", "blog", labels.MemberApp, corev1.PodRunning),
	)}

	name, err := k.FindContainer(context.Background(), "sites", "blog", labels.MemberApp)
	require.NoError(t, err)
	assert.Equal(t, "blog-0", name)

	name, err = k.FindContainer(context.Background(), "other", "blog", labels.MemberApp)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestKube_FindContainer_TwoSitesInOneNamespace(t *testing.T) {
	k := &Kube{Clientset: fake.NewSimpleClientset(
		pod("blog-0", "blog", labels.MemberApp, corev1.PodRunning),
		pod("blog-db-0", "blog", labels.MemberDB, corev1.PodRunning),
		pod("shop-0", "shop", labels.MemberApp, corev1.PodRunning),
		pod("shop-db-0", "shop", labels.MemberDB, corev1.PodRunning),
	)}
	ctx := context.Background()

	for _, tt := range []struct{ token, member, want string }{
		{"blog", labels.MemberApp, "blog-0"},
		{"blog", labels.MemberDB, "blog-db-0"},
		{"shop", labels.MemberApp, "shop-0"},
		{"shop", labels.MemberDB, "shop-db-0"},
		{"news", labels.MemberApp, ""},
	} {
		name, err := k.FindContainer(ctx, "sites", tt.token, tt.member)
		require.NoError(t, err)
		assert.Equal(t, tt.want, name, "%s/%s", tt.token, tt.member)
	}
}
